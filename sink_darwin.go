package native

import "golang.org/x/sys/unix"

var libcNames = []string{"/usr/lib/libSystem.B.dylib"}

func pipe() (r, w int, err error) {
	var p [2]int
	if err = unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return p[0], p[1], nil
}

func dupTo(oldfd, newfd int) error {
	return unix.Dup2(oldfd, newfd)
}
