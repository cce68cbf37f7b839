package kvio

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"strings"
	"syscall"
)

var (
	// ErrWouldBlock is returned by [IO.TryLockWrite] when another descriptor
	// holds a conflicting lock.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidConfig is returned when a [Config] fails validation or a
	// config file cannot be parsed.
	ErrInvalidConfig = errors.New("invalid kvio config")
)

// Error records a failed kvio operation with the path and the underlying OS
// error. It unwraps to the OS error, so errors.Is(err, os.ErrNotExist) and
// errors.Is(err, syscall.ENOSPC) work on it.
type Error struct {
	// Op is one of "open", "fsync", "close", "lock", "unlock", "read", "write".
	Op   string
	Path string

	// Attempts is the number of open attempts made. Zero for other ops.
	Attempts int

	// Transferred is the number of bytes moved before a read or write failed.
	Transferred int

	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "kvio: %s %q", e.Op, e.Path)

	if e.Attempts > 1 {
		fmt.Fprintf(&sb, " failed after %d attempts", e.Attempts)
	}

	if e.Op == "read" || e.Op == "write" {
		fmt.Fprintf(&sb, " after %d bytes", e.Transferred)
	}

	sb.WriteString(": ")
	sb.WriteString(causeText(e.Path, e.Err))

	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// causeText drops the redundant "op path:" prefix of a PathError for the
// same path.
func causeText(path string, err error) string {
	if err == nil {
		return "<nil>"
	}

	var pe *iofs.PathError
	if errors.As(err, &pe) && pe.Path == path && pe.Err != nil {
		return pe.Err.Error()
	}

	return err.Error()
}

// IsTransient reports whether err is an interruption that a retry of the same
// call is expected to clear: EINTR, EAGAIN or EWOULDBLOCK.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

// IsPermanentOpenError reports whether retrying the open cannot change the
// outcome. Used when [Config.SkipPermanentOpenErrors] is set.
func IsPermanentOpenError(err error) bool {
	for _, errno := range permanentOpenErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}

var permanentOpenErrnos = []syscall.Errno{
	syscall.ENOENT,
	syscall.ENOTDIR,
	syscall.EACCES,
	syscall.EPERM,
	syscall.EEXIST,
	syscall.EISDIR,
	syscall.ELOOP,
	syscall.ENAMETOOLONG,
	syscall.EROFS,
}
