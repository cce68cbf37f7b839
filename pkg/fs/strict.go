package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// TestBuilder is the subset of [testing.T] used by [Strict].
//
// This keeps [Strict] usable from tests in other packages without depending
// on _test.go files.
type TestBuilder interface {
	// [testing.T.Helper]
	Helper()
	// [testing.T.Cleanup]
	Cleanup(func())
	// [testing.T.Failed]
	Failed() bool
	// [testing.T.Logf]
	Logf(format string, args ...any)
	// [testing.T.Fatalf]
	Fatalf(format string, args ...any)
}

// Strict wraps an [FS] for tests:
//   - Records a bounded trace of recent operations
//   - Fails the test on any error that was not injected by [Chaos]
//
// Errors listed in allow (for example [os.ErrNotExist] when a test probes a
// missing path on purpose) and [io.EOF] are never treated as failures.
//
// Use it on top of [Chaos] to make sure retry loops only ever see the faults
// the test asked for.
type Strict struct {
	tb    TestBuilder
	fs    FS
	trace *chaosTrace
	allow []error
}

// NewStrict creates a new [Strict] wrapping fsys. On test failure the trace of
// recent operations is logged via tb.Cleanup.
func NewStrict(tb TestBuilder, fsys FS, allow ...error) *Strict {
	tb.Helper()

	s := &Strict{
		tb:    tb,
		fs:    fsys,
		trace: newChaosTrace(200),
		allow: allow,
	}

	tb.Cleanup(func() {
		if tb.Failed() {
			if trace := s.Trace(); trace != "" {
				tb.Logf("fs trace:\n%s", trace)
			}
		}
	})

	return s
}

// Trace returns a formatted string of recent operations.
func (s *Strict) Trace() string {
	return s.trace.String()
}

func (s *Strict) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	s.tb.Helper()

	f, err := s.fs.OpenFile(path, flag, perm)
	if err := s.check("open", path, err, TraceAttr{"flag", strconv.Itoa(flag)}, TraceAttr{"perm", fmt.Sprintf("%#o", perm)}); err != nil {
		return nil, err
	}

	return &strictFile{s: s, f: f, path: path}, nil
}

func (s *Strict) Access(path string, mode uint32) error {
	s.tb.Helper()

	return s.check("access", path, s.fs.Access(path, mode))
}

var _ FS = (*Strict)(nil)

// check traces the operation and fatals on real (non-injected) errors.
func (s *Strict) check(op, path string, err error, attrs ...TraceAttr) error {
	s.tb.Helper()

	s.trace.add(op, path, boolKind(err == nil), err, IsChaosErr(err), attrs...)

	if err == nil || IsChaosErr(err) || errors.Is(err, io.EOF) {
		return err
	}

	for _, allowed := range s.allow {
		if errors.Is(err, allowed) {
			return err
		}
	}

	s.tb.Fatalf("strictfs: unexpected real fs error: %v\n%s", err, s.Trace())

	return err
}

// strictFile wraps a [File] to trace and validate errors.
type strictFile struct {
	s    *Strict
	f    File
	path string
}

var _ File = (*strictFile)(nil)

func (sf *strictFile) Read(p []byte) (int, error) {
	sf.s.tb.Helper()
	n, err := sf.f.Read(p)

	return n, sf.s.check("file.read", sf.path, err, TraceAttr{"n", strconv.Itoa(n)})
}

func (sf *strictFile) Write(p []byte) (int, error) {
	sf.s.tb.Helper()
	n, err := sf.f.Write(p)

	return n, sf.s.check("file.write", sf.path, err, TraceAttr{"n", strconv.Itoa(n)})
}

func (sf *strictFile) Close() error {
	sf.s.tb.Helper()

	return sf.s.check("file.close", sf.path, sf.f.Close())
}

func (sf *strictFile) Seek(offset int64, whence int) (int64, error) {
	sf.s.tb.Helper()
	pos, err := sf.f.Seek(offset, whence)

	return pos, sf.s.check("file.seek", sf.path, err, TraceAttr{"pos", strconv.FormatInt(pos, 10)})
}

func (sf *strictFile) Fd() uintptr {
	return sf.f.Fd()
}

func (sf *strictFile) Sync() error {
	sf.s.tb.Helper()

	return sf.s.check("file.sync", sf.path, sf.f.Sync())
}
