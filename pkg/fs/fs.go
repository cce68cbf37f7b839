// Package fs provides the filesystem seam used by kvio.
//
// The main types are:
//   - [FS]: interface for the path-level operations kvio performs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] and [unix]
//   - [Chaos]: testing implementation that injects transient, partial and
//     hard failures the way shared parallel filesystems produce them
//   - [Strict]: testing wrapper that fails the test on any non-injected error
//
// Example usage:
//
//	fsys := fs.NewChaos(fs.NewReal(), seed, &fs.ChaosConfig{InterruptRate: 0.2})
//	cfg := kvio.DefaultConfig()
//	cfg.FS = fsys
//	kio, err := kvio.New(cfg)
//
// [unix]: https://pkg.go.dev/golang.org/x/sys/unix
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. Implementations must behave like
// [os.File], including that [File.Fd] returns a valid OS file descriptor
// usable with syscalls (flock, fcntl) until the file is closed.
//
// Unlike [os.File], implementations are allowed to return short reads and
// short writes with a nil error, and to surface EINTR/EAGAIN. Callers that need
// exact transfers must loop (see kvio.ReadAttempt and kvio.WriteAttempt).
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Sync commits the file's contents to stable storage. See [os.File.Sync].
	Sync() error
}

// Access mode bits for [FS.Access]. These match the values of R_OK, W_OK and
// X_OK on every Unix.
const (
	AccessRead    uint32 = 0x4
	AccessWrite   uint32 = 0x2
	AccessExecute uint32 = 0x1
)

// FS defines the path-level operations kvio needs.
//
// Paths use OS semantics (like the os package and path/filepath), not the
// slash-separated paths used by the standard library io/fs package.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	// perm is only consulted when flag contains [os.O_CREATE], and is filtered
	// through the process umask by the kernel.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Access checks the caller's permission to path using the real uid/gid,
	// like access(2). mode is a combination of [AccessRead], [AccessWrite] and
	// [AccessExecute]. It opens no descriptor.
	Access(path string, mode uint32) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
