//go:build !(darwin || linux)

package native

func flushStdio() {}

func pipe() (int, int, error) { return -1, -1, ErrUnsupported }

func dupFd(int) (int, error) { return -1, ErrUnsupported }

func dupTo(int, int) error { return ErrUnsupported }

func setNonblock(int) error { return ErrUnsupported }

func closeFds(...int) {}
