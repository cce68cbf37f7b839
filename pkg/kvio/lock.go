package kvio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/kvio/pkg/fs"
)

type lockOp int

const (
	lockExclusive lockOp = iota + 1
	lockExclusiveNonBlocking
	lockRelease
)

// lockFunc performs one lock syscall on fd. It may return EINTR.
type lockFunc func(fd int, op lockOp) error

func lockFuncFor(m LockMethod) (lockFunc, error) {
	switch m {
	case LockFlock:
		return flockLock, nil
	case LockFcntl:
		return fcntlLock, nil
	case LockOFD:
		return ofdLockFunc()
	default:
		return nil, fmt.Errorf("%w: unknown lock_method %q", ErrInvalidConfig, m)
	}
}

func flockLock(fd int, op lockOp) error {
	how := unix.LOCK_EX

	switch op {
	case lockExclusiveNonBlocking:
		how |= unix.LOCK_NB
	case lockRelease:
		how = unix.LOCK_UN
	}

	return unix.Flock(fd, how)
}

func fcntlLock(fd int, op lockOp) error {
	return recordLock(fd, op, unix.F_SETLKW, unix.F_SETLK)
}

// recordLock takes or drops a write lock over the whole file (Start 0, Len 0)
// with the given fcntl commands.
func recordLock(fd int, op lockOp, waitCmd, tryCmd int) error {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(io.SeekStart),
	}

	cmd := waitCmd

	switch op {
	case lockExclusiveNonBlocking:
		cmd = tryCmd
	case lockRelease:
		lk.Type = unix.F_UNLCK
		cmd = tryCmd
	}

	return unix.FcntlFlock(uintptr(fd), cmd, &lk)
}

// lockRetryEINTR calls lock until it returns something other than EINTR.
//
// Signals (SIGCHLD, SIGWINCH, timers) interrupt a blocked lock wait without
// failing it. Retries are capped so a signal storm cannot spin forever.
func lockRetryEINTR(lock lockFunc, fd int, op lockOp) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = lock(fd, op)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}

// isWouldBlock reports lock contention on a non-blocking attempt. flock
// returns EWOULDBLOCK; POSIX allows F_SETLK to return EACCES or EAGAIN.
func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EACCES)
}

// LockWrite takes an exclusive write lock on the whole of f, blocking with no
// timeout until it is granted.
//
// The lock is advisory: only processes that also lock exclude each other.
// Use [IO.LockWriteContext] to bound the wait.
func (o *IO) LockWrite(path string, f fs.File) error {
	err := lockRetryEINTR(o.lock, int(f.Fd()), lockExclusive)
	if err != nil {
		o.log.Error("lock failed", "op", "lock", "path", path, "method", o.cfg.LockMethod, "err", err)

		return &Error{Op: "lock", Path: path, Err: err}
	}

	return nil
}

// TryLockWrite attempts [IO.LockWrite] once without waiting. It returns an
// error matching [ErrWouldBlock] when another holder has the lock.
func (o *IO) TryLockWrite(path string, f fs.File) error {
	err := lockRetryEINTR(o.lock, int(f.Fd()), lockExclusiveNonBlocking)
	if err == nil {
		return nil
	}

	if isWouldBlock(err) {
		return &Error{Op: "lock", Path: path, Err: ErrWouldBlock}
	}

	o.log.Error("lock failed", "op", "lock", "path", path, "method", o.cfg.LockMethod, "err", err)

	return &Error{Op: "lock", Path: path, Err: err}
}

// LockWriteContext is [IO.LockWrite] with a cancellable wait.
//
// It polls non-blocking attempts with backoff from 1ms to 25ms. When ctx is
// done first the returned error wraps ctx.Err().
func (o *IO) LockWriteContext(ctx context.Context, path string, f fs.File) error {
	const maxBackoff = 25 * time.Millisecond

	backoff := time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			return &Error{Op: "lock", Path: path, Err: fmt.Errorf("waiting for lock: %w", err)}
		}

		err := o.TryLockWrite(path, f)
		if err == nil || !errors.Is(err, ErrWouldBlock) {
			return err
		}

		timer := time.NewTimer(backoff)

		select {
		case <-ctx.Done():
			timer.Stop()

			return &Error{Op: "lock", Path: path, Err: fmt.Errorf("waiting for lock: %w", ctx.Err())}
		case <-timer.C:
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// Unlock releases the lock taken by [IO.LockWrite] on f. Unlocking a
// descriptor that holds no lock is not detected.
func (o *IO) Unlock(path string, f fs.File) error {
	err := lockRetryEINTR(o.lock, int(f.Fd()), lockRelease)
	if err != nil {
		o.log.Error("unlock failed", "op", "unlock", "path", path, "method", o.cfg.LockMethod, "err", err)

		return &Error{Op: "unlock", Path: path, Err: err}
	}

	return nil
}

// LockedFile is an open file holding an exclusive write lock.
//
// It is an [fs.File]; reads, writes and seeks go straight to the descriptor.
// Close unlocks, fsyncs and closes.
type LockedFile struct {
	fs.File

	owner *IO
	path  string

	mu     sync.Mutex
	closed bool
}

// Path returns the path the file was opened with.
func (lf *LockedFile) Path() string {
	return lf.path
}

// Close releases the lock, then flushes and closes the file (see
// [IO.CloseWithUnlock]).
//
// Close is idempotent; calls after the first return nil.
func (lf *LockedFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.closed {
		return nil
	}

	lf.closed = true

	return lf.owner.closeWithUnlock(lf.path, lf.File)
}

// OpenWithLock opens path like [IO.Open] and then takes the lock like
// [IO.LockWrite].
//
// If the lock cannot be taken the file is closed again and the lock error is
// returned; no descriptor escapes unlocked. With [LockFcntl] and [LockOFD]
// flag must include write access.
func (o *IO) OpenWithLock(path string, flag int, perm os.FileMode) (*LockedFile, error) {
	return o.openWithLock(path, flag, perm, func(f fs.File) error {
		return o.LockWrite(path, f)
	})
}

// OpenWithLockContext is [IO.OpenWithLock] with the lock wait of
// [IO.LockWriteContext].
func (o *IO) OpenWithLockContext(ctx context.Context, path string, flag int, perm os.FileMode) (*LockedFile, error) {
	return o.openWithLock(path, flag, perm, func(f fs.File) error {
		return o.LockWriteContext(ctx, path, f)
	})
}

func (o *IO) openWithLock(path string, flag int, perm os.FileMode, lock func(fs.File) error) (*LockedFile, error) {
	f, err := o.Open(path, flag, perm)
	if err != nil {
		return nil, err
	}

	if err := lock(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return nil, errors.Join(err, &Error{Op: "close", Path: path, Err: closeErr})
		}

		return nil, err
	}

	return &LockedFile{File: f, owner: o, path: path}, nil
}

// CloseWithUnlock releases the lock on f, then closes it like [IO.Close].
//
// Both steps always run. An unlock failure is reported first; a close or
// fsync failure is joined after it. When f is a [*LockedFile] this is
// f.Close().
func (o *IO) CloseWithUnlock(path string, f fs.File) error {
	if lf, ok := f.(*LockedFile); ok {
		return lf.Close()
	}

	return o.closeWithUnlock(path, f)
}

func (o *IO) closeWithUnlock(path string, f fs.File) error {
	unlockErr := o.Unlock(path, f)
	closeErr := o.Close(path, f)

	return errors.Join(unlockErr, closeErr)
}
