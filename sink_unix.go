//go:build darwin || linux

package native

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"sync"
)

var (
	stdioOnce sync.Once
	fflush    func(stream uintptr) int32
)

// flushStdio drains every C stdio output buffer (fflush(NULL)), so native
// printf output that is still buffered reaches fd 1.
func flushStdio() {
	stdioOnce.Do(func() {
		for _, name := range libcNames {
			h, err := openLibrary(name, RTLDNow|RTLDGlobal)
			if err != nil {
				Logger().Debug("open libc", zap.String("name", name), zap.Error(err))
				continue
			}
			addr, err := lookupSymbol(h, "fflush")
			if err != nil {
				Logger().Debug("lookup fflush", zap.String("name", name), zap.Error(err))
				continue
			}
			registerFunc(&fflush, addr)
			return
		}
	})
	if fflush != nil {
		fflush(0)
	}
}

func dupFd(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func closeFds(fds ...int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
