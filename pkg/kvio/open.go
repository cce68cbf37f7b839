package kvio

import (
	"errors"
	"os"
	"time"

	"github.com/calvinalkan/kvio/pkg/fs"
)

// Open opens path with flag (and perm, when flag contains [os.O_CREATE]).
//
// A failed open is retried up to [Config.OpenRetries] times, sleeping
// [Config.OpenRetryDelay] before each retry. Distributed filesystems fail
// opens transiently (stale handles, metadata server hiccups), so every
// failure class is retried unless [Config.SkipPermanentOpenErrors] is set.
//
// On exhaustion the returned [*Error] carries the number of attempts and the
// last OS error. The caller owns the returned file; release it with
// [IO.Close].
func (o *IO) Open(path string, flag int, perm os.FileMode) (fs.File, error) {
	attempts := 0

	for {
		attempts++

		f, err := o.fs.OpenFile(path, flag, perm)
		if err == nil {
			if attempts > 1 {
				o.log.Debug("open succeeded after retry", "op", "open", "path", path, "attempt", attempts)
			}

			return f, nil
		}

		permanent := o.cfg.SkipPermanentOpenErrors && IsPermanentOpenError(err)

		if attempts > o.cfg.OpenRetries || permanent {
			o.log.Error("open failed", "op", "open", "path", path, "attempts", attempts, "err", err)

			return nil, &Error{Op: "open", Path: path, Attempts: attempts, Err: err}
		}

		o.log.Debug("open failed, retrying", "op", "open", "path", path, "attempt", attempts, "err", err)

		if o.cfg.OpenRetryDelay > 0 {
			time.Sleep(o.cfg.OpenRetryDelay)
		}
	}
}

// Close flushes f to stable storage with fsync, then closes it.
//
// When Close returns nil, every write issued before the call is durable as
// far as the filesystem honors fsync. The close is attempted even when fsync
// fails; both failures are reported, joined. f must not be used afterwards,
// whatever Close returns.
func (o *IO) Close(path string, f fs.File) error {
	var syncErr, closeErr error

	if err := f.Sync(); err != nil {
		o.log.Warn("fsync failed", "op", "fsync", "path", path, "err", err)

		syncErr = &Error{Op: "fsync", Path: path, Err: err}
	}

	if err := f.Close(); err != nil {
		o.log.Error("close failed", "op", "close", "path", path, "err", err)

		closeErr = &Error{Op: "close", Path: path, Err: err}
	}

	return errors.Join(syncErr, closeErr)
}

// FileIsReadable reports whether path exists and the caller may read it.
//
// It uses access(2): no descriptor is opened and no lock is taken, so a
// probe never disturbs another process's locks on the file.
func (o *IO) FileIsReadable(path string) bool {
	err := o.fs.Access(path, fs.AccessRead)
	if err != nil {
		o.log.Debug("file not readable", "op", "access", "path", path, "err", err)

		return false
	}

	return true
}
