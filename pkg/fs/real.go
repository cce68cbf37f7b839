package fs

import (
	"errors"
	iofs "io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// OpenFile is a passthrough to [os.OpenFile] with identical behavior and
// error semantics. Access calls access(2) directly and reports
// failures as [*iofs.PathError] like the os package does.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// Access wraps [unix.Access], retrying on EINTR.
func (r *Real) Access(path string, mode uint32) error {
	for {
		err := unix.Access(path, mode)
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return &iofs.PathError{Op: "access", Path: path, Err: err}
		}

		return nil
	}
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
