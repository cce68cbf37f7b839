// Package kvio is the hardened synchronous file-I/O layer under the KVTree
// checkpoint format.
//
// It wraps open, fsync+close, advisory write locks and read/write with the
// retry behavior shared parallel filesystems need: opens are retried a
// bounded number of times, transfers loop over partial results and
// EINTR/EAGAIN until they complete, hit EOF, or fail hard.
//
// The package-level functions use a default [IO] over the real filesystem.
// Build an [IO] with [New] to inject a different [fs.FS] (for example
// [fs.Chaos] in tests), tune retries, or pick another [LockMethod].
//
// Every operation returns errors as [*Error], carrying the operation, the
// path and the OS error. Nothing is swallowed, and a short read at EOF is
// not an error.
package kvio

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/calvinalkan/kvio/pkg/fs"
)

// IO performs kvio operations against one [fs.FS] with one [Config].
//
// IO has no mutable state after construction and is safe for concurrent use.
type IO struct {
	fs  fs.FS
	cfg Config
	log *slog.Logger

	// lock performs a single lock syscall. Swapped in tests to inject errors.
	lock lockFunc
}

// New validates cfg and returns an [IO].
func New(cfg Config) (*IO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.LockMethod == "" {
		cfg.LockMethod = LockFlock
	}

	lock, err := lockFuncFor(cfg.LockMethod)
	if err != nil {
		return nil, err
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &IO{
		fs:   fsys,
		cfg:  cfg,
		log:  logger,
		lock: lock,
	}, nil
}

// Config returns the configuration the IO was built with, after defaults.
func (o *IO) Config() Config {
	return o.cfg
}

var std = mustNew(DefaultConfig())

func mustNew(cfg Config) *IO {
	o, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("kvio: default config: %v", err))
	}

	return o
}

// Default returns the [IO] used by the package-level functions.
func Default() *IO {
	return std
}

// Open calls [IO.Open] on the default IO.
func Open(path string, flag int, perm os.FileMode) (fs.File, error) {
	return std.Open(path, flag, perm)
}

// Close calls [IO.Close] on the default IO.
func Close(path string, f fs.File) error {
	return std.Close(path, f)
}

// LockWrite calls [IO.LockWrite] on the default IO.
func LockWrite(path string, f fs.File) error {
	return std.LockWrite(path, f)
}

// TryLockWrite calls [IO.TryLockWrite] on the default IO.
func TryLockWrite(path string, f fs.File) error {
	return std.TryLockWrite(path, f)
}

// LockWriteContext calls [IO.LockWriteContext] on the default IO.
func LockWriteContext(ctx context.Context, path string, f fs.File) error {
	return std.LockWriteContext(ctx, path, f)
}

// Unlock calls [IO.Unlock] on the default IO.
func Unlock(path string, f fs.File) error {
	return std.Unlock(path, f)
}

// OpenWithLock calls [IO.OpenWithLock] on the default IO.
func OpenWithLock(path string, flag int, perm os.FileMode) (*LockedFile, error) {
	return std.OpenWithLock(path, flag, perm)
}

// OpenWithLockContext calls [IO.OpenWithLockContext] on the default IO.
func OpenWithLockContext(ctx context.Context, path string, flag int, perm os.FileMode) (*LockedFile, error) {
	return std.OpenWithLockContext(ctx, path, flag, perm)
}

// CloseWithUnlock calls [IO.CloseWithUnlock] on the default IO.
func CloseWithUnlock(path string, f fs.File) error {
	return std.CloseWithUnlock(path, f)
}

// ReadAttempt calls [IO.ReadAttempt] on the default IO.
func ReadAttempt(path string, f fs.File, buf []byte) (int, error) {
	return std.ReadAttempt(path, f, buf)
}

// WriteAttempt calls [IO.WriteAttempt] on the default IO.
func WriteAttempt(path string, f fs.File, buf []byte) (int, error) {
	return std.WriteAttempt(path, f, buf)
}

// FileIsReadable calls [IO.FileIsReadable] on the default IO.
func FileIsReadable(path string) bool {
	return std.FileIsReadable(path)
}
