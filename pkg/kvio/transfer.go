package kvio

import (
	"errors"
	"io"

	"github.com/calvinalkan/kvio/pkg/fs"
)

// maxConsecutiveEmpty bounds how many (0, nil) transfers in a row are
// tolerated before giving up with [io.ErrNoProgress]. Same limit as bufio.
const maxConsecutiveEmpty = 100

// ReadAttempt reads into buf until it is full, EOF is reached, or a hard
// error occurs, and returns the number of bytes read.
//
// A short count with a nil error means EOF: the first n bytes of buf hold the
// data up to end of file. EINTR and EAGAIN are retried. A hard error is
// returned as [*Error] together with the bytes read before it.
func (o *IO) ReadAttempt(path string, f fs.File, buf []byte) (int, error) {
	total := 0
	empty := 0

	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n

		if n > 0 {
			empty = 0
		}

		switch {
		case err == nil:
			if n == 0 {
				empty++
				if empty >= maxConsecutiveEmpty {
					return total, o.transferErr("read", path, total, io.ErrNoProgress)
				}
			}
		case errors.Is(err, io.EOF):
			return total, nil
		case IsTransient(err):
			o.log.Debug("read interrupted, retrying", "op", "read", "path", path, "transferred", total, "err", err)
		default:
			return total, o.transferErr("read", path, total, err)
		}
	}

	return total, nil
}

// WriteAttempt writes all of buf, looping over short writes, EINTR and
// EAGAIN, and returns the number of bytes written.
//
// Either all of buf is written and the error is nil, or the error is an
// [*Error] and the count says how much reached the descriptor before it.
func (o *IO) WriteAttempt(path string, f fs.File, buf []byte) (int, error) {
	total := 0
	empty := 0

	for total < len(buf) {
		n, err := f.Write(buf[total:])
		total += n

		if n > 0 {
			empty = 0
		}

		switch {
		case err == nil || errors.Is(err, io.ErrShortWrite):
			if n == 0 {
				empty++
				if empty >= maxConsecutiveEmpty {
					return total, o.transferErr("write", path, total, io.ErrNoProgress)
				}
			}
		case IsTransient(err):
			o.log.Debug("write interrupted, retrying", "op", "write", "path", path, "transferred", total, "err", err)
		default:
			return total, o.transferErr("write", path, total, err)
		}
	}

	return total, nil
}

func (o *IO) transferErr(op, path string, transferred int, err error) error {
	o.log.Error(op+" failed", "op", op, "path", path, "transferred", transferred, "err", err)

	return &Error{Op: op, Path: path, Transferred: transferred, Err: err}
}
