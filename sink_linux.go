package native

import "golang.org/x/sys/unix"

var libcNames = []string{"libc.so.6", "libc.so"}

func pipe() (r, w int, err error) {
	var p [2]int
	if err = unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

// dupTo makes newfd refer to oldfd; Dup2 does not exist on every linux arch.
func dupTo(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}
