//go:build linux

package kvio

import "golang.org/x/sys/unix"

func ofdLockFunc() (lockFunc, error) {
	return ofdLock, nil
}

// ofdLock uses open file description locks: record-lock semantics, but the
// lock belongs to the descriptor, not the process. Pid must stay zero.
func ofdLock(fd int, op lockOp) error {
	return recordLock(fd, op, unix.F_OFD_SETLKW, unix.F_OFD_SETLK)
}
