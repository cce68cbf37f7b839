package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection. Partially initialized configs
// only inject faults for the specified rates; unset fields default to 0.0.
//
// Faults fall into three classes, matching what a caller on a shared parallel
// filesystem actually observes:
//   - transient: OpenFailRate, OpenFailFirst, InterruptRate. A retry may succeed.
//   - partial: PartialReadRate, ShortWriteRate, PartialWriteRate. Progress was
//     made but the transfer is incomplete.
//   - hard: ReadFailRate, WriteFailRate, SyncFailRate, CloseFailRate,
//     AccessFailRate. Retrying the same call is pointless.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.OpenFile fails with a transient
	// errno (EIO, ESTALE, EAGAIN, EMFILE, ENFILE). Never ENOENT: missing
	// paths must come from the wrapped FS.
	OpenFailRate float64

	// OpenFailFirst makes the first N OpenFile calls fail with ESTALE,
	// regardless of OpenFailRate. Use it for deterministic retry tests.
	OpenFailFirst int

	// InterruptRate controls how often File.Read and File.Write return
	// (0, EINTR) or (0, EAGAIN) without touching the underlying file, like a
	// syscall interrupted by a signal before any transfer.
	InterruptRate float64

	// PartialReadRate controls how often File.Read returns a short read
	// (0 < n < len(buf), err == nil) by limiting the underlying read size.
	// This is valid io.Reader behavior and tests that callers loop.
	PartialReadRate float64

	// ReadFailRate controls how often File.Read fails with EIO, returning
	// zero bytes.
	ReadFailRate float64

	// ShortWriteRate controls how often File.Write writes a prefix and returns
	// n < len(data) with a nil error, like write(2) on a filesystem that hit a
	// quota boundary or a signal mid-transfer.
	ShortWriteRate float64

	// PartialWriteRate controls how often File.Write writes a prefix and
	// returns io.ErrShortWrite, the error os.File reports when write(2)
	// stopped early without an errno.
	PartialWriteRate float64

	// WriteFailRate controls how often File.Write fails entirely, writing zero
	// bytes and returning EIO, ENOSPC, EDQUOT or EROFS.
	WriteFailRate float64

	// SyncFailRate controls how often File.Sync (fsync) fails with EIO,
	// ENOSPC, EDQUOT or EROFS.
	SyncFailRate float64

	// CloseFailRate controls how often File.Close reports EIO. The underlying
	// descriptor is always closed, even when an error is returned.
	CloseFailRate float64

	// AccessFailRate controls how often FS.Access fails with EACCES or EIO.
	AccessFailRate float64

	// TraceCapacity is the max number of operations to keep in the trace log.
	// Set to 0 (default) to disable tracing.
	TraceCapacity int
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	Interrupts    int64
	PartialReads  int64
	ReadFails     int64
	ShortWrites   int64
	PartialWrites int64
	WriteFails    int64
	SyncFails     int64
	CloseFails    int64
	AccessFails   int64
}

// Total returns the sum of all counters.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.Interrupts + s.PartialReads + s.ReadFails +
		s.ShortWrites + s.PartialWrites + s.WriteFails + s.SyncFails +
		s.CloseFails + s.AccessFails
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps an [*fs.PathError] (or a bare sentinel like [io.ErrShortWrite]) so
// errors.Is/As and helpers like [os.IsPermission] keep working, while
// [IsChaosErr] can still tell injected errors from real ones.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects failures for testing.
//
// Errno-style faults are returned as an [*fs.PathError] holding a real
// [syscall.Errno], so errors.Is(err, syscall.EINTR) behaves like a real OS
// error. Unlike the os package, Chaos does surface EINTR and EAGAIN from
// File.Read and File.Write: the whole point is to exercise retry loops that
// sit directly above read(2)/write(2).
//
// Return-shape constraints:
//   - File.Read failures return n == 0.
//   - File.Write may return n > 0 with a nil error (short write) or with
//     io.ErrShortWrite (partial write).
//   - File.Close always closes the underlying file.
//   - Chaos never injects ENOENT or n > len(buf).
//
// Use [Chaos.SetMode] to control behavior and [Chaos.Stats] to inspect how many
// faults were injected.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32
	trace  *chaosTrace

	rngMu sync.Mutex

	openFailFirst atomic.Int64

	openFails     atomic.Int64
	interrupts    atomic.Int64
	partialReads  atomic.Int64
	readFails     atomic.Int64
	shortWrites   atomic.Int64
	partialWrites atomic.Int64
	writeFails    atomic.Int64
	syncFails     atomic.Int64
	closeFails    atomic.Int64
	accessFails   atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying or config is nil.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	if config == nil {
		panic("chaos config is nil")
	}

	c := &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: *config,
		trace:  newChaosTrace(config.TraceCapacity),
	}
	c.openFailFirst.Store(int64(config.OpenFailFirst))

	return c
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Trace returns a formatted string of recent operations.
// Returns an empty string if tracing is disabled.
func (c *Chaos) Trace() string {
	return c.trace.String()
}

// TraceEvents returns a snapshot of the trace buffer.
// Returns nil if tracing is disabled.
func (c *Chaos) TraceEvents() []TraceEvent {
	return c.trace.snapshot()
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		Interrupts:    c.interrupts.Load(),
		PartialReads:  c.partialReads.Load(),
		ReadFails:     c.readFails.Load(),
		ShortWrites:   c.shortWrites.Load(),
		PartialWrites: c.partialWrites.Load(),
		WriteFails:    c.writeFails.Load(),
		SyncFails:     c.syncFails.Load(),
		CloseFails:    c.closeFails.Load(),
		AccessFails:   c.accessFails.Load(),
	}
}

// OpenFile opens a file with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	mode := c.getMode()

	if mode == ChaosModeActive {
		if c.takeOpenFailFirst() {
			c.openFails.Add(1)
			err := pathError("open", path, syscall.ESTALE)

			c.trace.add("open", path, "fail", err, true,
				TraceAttr{"errno", syscall.ESTALE.Error()}, TraceAttr{"forced", "true"})

			return nil, err
		}

		if c.should(c.config.OpenFailRate) {
			errno := c.pickRandom(openErrnos)
			c.openFails.Add(1)
			err := pathError("open", path, errno)

			c.trace.add("open", path, "fail", err, true, TraceAttr{"errno", errno.Error()})

			return nil, err
		}
	}

	file, err := c.fs.OpenFile(path, flag, perm)

	c.trace.add("open", path, boolKind(err == nil), err, false,
		TraceAttr{"flag", strconv.Itoa(flag)}, TraceAttr{"perm", fmt.Sprintf("%#o", perm)})

	if err != nil {
		return nil, err
	}

	return &chaosFile{f: file, chaos: c, path: path}, nil
}

// Access checks permissions with fault injection.
func (c *Chaos) Access(path string, mode uint32) error {
	if c.getMode() == ChaosModeActive && c.should(c.config.AccessFailRate) {
		errno := c.pickRandom([]syscall.Errno{syscall.EACCES, syscall.EIO})
		c.accessFails.Add(1)
		err := pathError("access", path, errno)

		c.trace.add("access", path, "fail", err, true, TraceAttr{"errno", errno.Error()})

		return err
	}

	err := c.fs.Access(path, mode)

	c.trace.add("access", path, boolKind(err == nil), err, false,
		TraceAttr{"mode", strconv.FormatUint(uint64(mode), 8)})

	return err
}

var (
	// Transient open failures seen on NFS/Lustre/GPFS clients.
	openErrnos = []syscall.Errno{syscall.EIO, syscall.ESTALE, syscall.EAGAIN, syscall.EMFILE, syscall.ENFILE}
	// Post-open write failures. Avoid EACCES/ENOENT after a successful open.
	writeErrnos = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}
	// Signal or non-blocking interruption before any transfer.
	interruptErrnos = []syscall.Errno{syscall.EINTR, syscall.EAGAIN}
)

func (c *Chaos) getMode() ChaosMode {
	v := c.mode.Load()
	if v > uint32(ChaosModeNoOp) {
		return ChaosModeActive
	}

	return ChaosMode(v)
}

func (c *Chaos) takeOpenFailFirst() bool {
	for {
		left := c.openFailFirst.Load()
		if left <= 0 {
			return false
		}

		if c.openFailFirst.CompareAndSwap(left, left-1) {
			return true
		}
	}
}

// should returns true with the given probability. Callers check the mode.
func (c *Chaos) should(rate float64) bool {
	if rate <= 0 {
		return false
	}

	return c.randFloat() < rate
}

// randFloat returns a random float64 in [0.0, 1.0) (thread-safe).
func (c *Chaos) randFloat() float64 {
	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result
}

// randIntn returns a random int in [0, n) (thread-safe).
func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.IntN(n)
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) pickRandom(errs []syscall.Errno) syscall.Errno {
	return errs[c.randIntn(len(errs))]
}

// pathError creates an injected [*fs.PathError] with the given operation, path, and errno.
func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

// chaosFile wraps a [File] and injects faults on Read/Write/Sync/Close.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(buf []byte) (int, error) {
	c := cf.chaos
	if c.getMode() == ChaosModeNoOp || len(buf) == 0 {
		n, err := cf.f.Read(buf)

		c.trace.add("file.read", cf.path, readKind(err), err, false, TraceAttr{"n", strconv.Itoa(n)})

		return n, err
	}

	if c.should(c.config.InterruptRate) {
		errno := c.pickRandom(interruptErrnos)
		c.interrupts.Add(1)
		err := pathError("read", cf.path, errno)

		c.trace.add("file.read", cf.path, "interrupt", err, true, TraceAttr{"errno", errno.Error()})

		return 0, err
	}

	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)
		err := pathError("read", cf.path, syscall.EIO)

		c.trace.add("file.read", cf.path, "fail", err, true)

		return 0, err
	}

	// Limit the underlying read, not just the returned count, otherwise the
	// file offset advances past bytes the caller never saw.
	if c.should(c.config.PartialReadRate) && len(buf) > 1 {
		c.partialReads.Add(1)
		cutoff := c.randIntn(len(buf)-1) + 1

		n, err := cf.f.Read(buf[:cutoff])

		c.trace.add("file.read", cf.path, "short_read", err, true,
			TraceAttr{"n", strconv.Itoa(n)}, TraceAttr{"requested", strconv.Itoa(len(buf))})

		return n, err
	}

	n, err := cf.f.Read(buf)

	c.trace.add("file.read", cf.path, readKind(err), err, false, TraceAttr{"n", strconv.Itoa(n)})

	return n, err
}

func (cf *chaosFile) Write(data []byte) (int, error) {
	c := cf.chaos
	if c.getMode() == ChaosModeNoOp || len(data) == 0 {
		n, err := cf.f.Write(data)

		c.trace.add("file.write", cf.path, boolKind(err == nil), err, false, TraceAttr{"n", strconv.Itoa(n)})

		return n, err
	}

	if c.should(c.config.InterruptRate) {
		errno := c.pickRandom(interruptErrnos)
		c.interrupts.Add(1)
		err := pathError("write", cf.path, errno)

		c.trace.add("file.write", cf.path, "interrupt", err, true, TraceAttr{"errno", errno.Error()})

		return 0, err
	}

	if c.should(c.config.WriteFailRate) {
		errno := c.pickRandom(writeErrnos)
		c.writeFails.Add(1)
		err := pathError("write", cf.path, errno)

		c.trace.add("file.write", cf.path, "fail", err, true, TraceAttr{"errno", errno.Error()})

		return 0, err
	}

	if len(data) > 1 {
		short := c.should(c.config.ShortWriteRate)
		partial := !short && c.should(c.config.PartialWriteRate)

		if short || partial {
			cutoff := c.randIntn(len(data)-1) + 1

			wrote, err := cf.f.Write(data[:cutoff])
			if err != nil {
				c.trace.add("file.write", cf.path, "fail", err, false, TraceAttr{"n", strconv.Itoa(wrote)})

				return wrote, err
			}

			attrs := []TraceAttr{{"n", strconv.Itoa(wrote)}, {"requested", strconv.Itoa(len(data))}}

			if short {
				c.shortWrites.Add(1)
				c.trace.add("file.write", cf.path, "short_write", nil, true, attrs...)

				return wrote, nil
			}

			c.partialWrites.Add(1)
			err = &chaosError{Err: io.ErrShortWrite}
			c.trace.add("file.write", cf.path, "partial_write", err, true, attrs...)

			return wrote, err
		}
	}

	n, err := cf.f.Write(data)

	c.trace.add("file.write", cf.path, boolKind(err == nil), err, false, TraceAttr{"n", strconv.Itoa(n)})

	return n, err
}

func (cf *chaosFile) Sync() error {
	c := cf.chaos
	if c.getMode() == ChaosModeActive && c.should(c.config.SyncFailRate) {
		errno := c.pickRandom(writeErrnos)
		c.syncFails.Add(1)
		err := pathError("sync", cf.path, errno)

		c.trace.add("file.sync", cf.path, "fail", err, true, TraceAttr{"errno", errno.Error()})

		return err
	}

	err := cf.f.Sync()

	c.trace.add("file.sync", cf.path, boolKind(err == nil), err, false)

	return err
}

func (cf *chaosFile) Close() error {
	c := cf.chaos
	inject := c.getMode() == ChaosModeActive && c.should(c.config.CloseFailRate)

	// Always close the underlying file to avoid descriptor leaks.
	err := cf.f.Close()
	if err != nil {
		c.trace.add("file.close", cf.path, "fail", err, false)

		return err
	}

	if inject {
		c.closeFails.Add(1)
		err := pathError("close", cf.path, syscall.EIO)

		c.trace.add("file.close", cf.path, "fail", err, true)

		return err
	}

	c.trace.add("file.close", cf.path, "ok", nil, false)

	return nil
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := cf.f.Seek(offset, whence)

	cf.chaos.trace.add("file.seek", cf.path, boolKind(err == nil), err, false,
		TraceAttr{"offset", strconv.FormatInt(offset, 10)}, TraceAttr{"pos", strconv.FormatInt(pos, 10)})

	return pos, err
}

func (cf *chaosFile) Fd() uintptr {
	return cf.f.Fd()
}

var _ FS = (*Chaos)(nil)

// TraceEvent records a single Chaos operation with injection details.
//
// Unlike error-only tracing, TraceEvent also captures operations that Chaos
// altered but returned successfully, such as short writes with err == nil.
type TraceEvent struct {
	Seq      uint64
	Op       string
	Path     string
	Err      error
	Injected bool
	// Kind is a short label: "ok", "fail", "eof", "interrupt", "short_read",
	// "short_write", "partial_write".
	Kind  string
	Attrs []TraceAttr
}

// TraceAttr is a key-value pair for trace event context.
type TraceAttr struct {
	Key   string
	Value string
}

func (e TraceEvent) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "#%d", e.Seq)

	if e.Injected {
		fmt.Fprintf(&sb, " [CHAOS:%s]", e.Kind)
	}

	fmt.Fprintf(&sb, " %s", e.Op)

	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}

	for _, a := range e.Attrs {
		fmt.Fprintf(&sb, " %s=%s", a.Key, a.Value)
	}

	if !e.Injected {
		sb.WriteString(" ")
		sb.WriteString(e.Kind)
	}

	if e.Err != nil {
		fmt.Fprintf(&sb, " err=%v", e.Err)
	}

	return sb.String()
}

// chaosTrace is a bounded circular buffer of [TraceEvent]. A nil *chaosTrace
// is valid and records nothing.
type chaosTrace struct {
	mu       sync.Mutex
	capacity int
	events   []TraceEvent
	next     int
	full     bool
	seq      uint64
}

func newChaosTrace(capacity int) *chaosTrace {
	if capacity <= 0 {
		return nil
	}

	return &chaosTrace{
		capacity: capacity,
		events:   make([]TraceEvent, 0, capacity),
	}
}

func (t *chaosTrace) add(op, path, kind string, err error, injected bool, attrs ...TraceAttr) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++

	event := TraceEvent{
		Seq:      t.seq,
		Op:       op,
		Path:     path,
		Err:      err,
		Injected: injected,
		Kind:     kind,
		Attrs:    attrs,
	}

	if len(t.events) < t.capacity {
		t.events = append(t.events, event)

		return
	}

	t.events[t.next] = event
	t.next = (t.next + 1) % t.capacity
	t.full = true
}

func (t *chaosTrace) snapshot() []TraceEvent {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]TraceEvent(nil), t.events...)
	}

	out := make([]TraceEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func (t *chaosTrace) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	var sb strings.Builder

	for i, e := range events {
		if i > 0 {
			sb.WriteByte('\n')
		}

		sb.WriteString(e.String())
	}

	return sb.String()
}

func boolKind(ok bool) string {
	if ok {
		return "ok"
	}

	return "fail"
}

func readKind(err error) string {
	if errors.Is(err, io.EOF) {
		return "eof"
	}

	return boolKind(err == nil)
}
