package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Chaos FS Tests
//
// These tests verify Chaos fault injection and OS-like error semantics.
//
// Chaos never injects ENOENT: missing-path errors must come from the wrapped FS.
// =============================================================================

func writeTestFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup WriteFile(%q): %v", path, err)
	}

	return path
}

func Test_Chaos_Passes_Through_When_Mode_Is_NoOp(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 12345, &ChaosConfig{
		OpenFailRate:  1.0,
		InterruptRate: 1.0,
		ReadFailRate:  1.0,
		WriteFailRate: 1.0,
		SyncFailRate:  1.0,
	})
	chaosFS.SetMode(ChaosModeNoOp)

	path := filepath.Join(t.TempDir(), "test.txt")

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(%q): %v", path, err)
	}
	defer f.Close()

	if n, err := f.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v, want n=5 err=nil", n, err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	got := make([]byte, 5)
	if _, err := io.ReadFull(f, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}

	if got, want := string(got), "hello"; got != want {
		t.Fatalf("read=%q, want %q", got, want)
	}

	if got, want := chaosFS.Stats().Total(), int64(0); got != want {
		t.Fatalf("Stats().Total()=%d, want %d", got, want)
	}
}

func Test_Chaos_Toggles_Injection_When_Mode_Changes(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 12345, &ChaosConfig{OpenFailRate: 1.0})
	path := writeTestFile(t, "x")

	if _, err := chaosFS.OpenFile(path, os.O_RDONLY, 0); err == nil {
		t.Fatalf("active: expected error")
	}

	chaosFS.SetMode(ChaosModeNoOp)

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("noop: %v", err)
	}
	_ = f.Close()

	chaosFS.SetMode(ChaosModeActive)

	if _, err := chaosFS.OpenFile(path, os.O_RDONLY, 0); err == nil {
		t.Fatalf("active again: expected error")
	}
}

func Test_Chaos_Fails_First_N_Opens_With_ESTALE_When_OpenFailFirst_Is_Set(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 1, &ChaosConfig{OpenFailFirst: 3})
	path := writeTestFile(t, "x")

	for i := range 3 {
		_, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
		if !errors.Is(err, syscall.ESTALE) {
			t.Fatalf("open #%d: err=%v, want ESTALE", i+1, err)
		}

		if !IsChaosErr(err) {
			t.Fatalf("open #%d: IsChaosErr=false, want true", i+1)
		}
	}

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open #4: %v", err)
	}
	_ = f.Close()

	if got, want := chaosFS.Stats().OpenFails, int64(3); got != want {
		t.Fatalf("Stats().OpenFails=%d, want %d", got, want)
	}
}

func Test_Chaos_Never_Injects_ENOENT_When_Open_Fail_Rate_Is_One(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 7, &ChaosConfig{OpenFailRate: 1.0})
	path := writeTestFile(t, "x")

	for range 200 {
		_, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
		if err == nil {
			t.Fatalf("open unexpectedly succeeded")
		}

		if errors.Is(err, syscall.ENOENT) {
			t.Fatalf("open injected ENOENT: %v", err)
		}

		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			t.Fatalf("err should be *os.PathError, got %T (%v)", err, err)
		}

		if got, want := pathErr.Op, "open"; got != want {
			t.Fatalf("PathError.Op=%q, want %q", got, want)
		}
	}
}

func Test_Chaos_Injects_Write_Error_When_Write_Fail_Rate_Is_One(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 12345, &ChaosConfig{WriteFailRate: 1.0})
	path := filepath.Join(t.TempDir(), "test.txt")

	f, err := chaosFS.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	if err == nil {
		t.Fatalf("write unexpectedly succeeded")
	}

	if got, want := n, 0; got != want {
		t.Fatalf("n=%d, want %d", got, want)
	}

	validErrs := []error{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}

	for _, e := range validErrs {
		if errors.Is(err, e) {
			return
		}
	}

	t.Fatalf("err=%v, want one of %v", err, validErrs)
}

func Test_Chaos_Interrupt_Does_Not_Advance_Offset_When_Read_Is_Interrupted(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "abcdef")
	chaosFS := NewChaos(NewReal(), 3, &ChaosConfig{InterruptRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 6)

	n, err := f.Read(buf)
	if got, want := n, 0; got != want {
		t.Fatalf("n=%d, want %d", got, want)
	}

	if !errors.Is(err, syscall.EINTR) && !errors.Is(err, syscall.EAGAIN) {
		t.Fatalf("err=%v, want EINTR or EAGAIN", err)
	}

	chaosFS.SetMode(ChaosModeNoOp)

	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull after interrupt: %v", err)
	}

	if got, want := string(buf), "abcdef"; got != want {
		t.Fatalf("read=%q, want %q", got, want)
	}
}

func Test_Chaos_Partial_Reads_Return_Every_Byte_Once_When_Caller_Loops(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("0123456789", 100)
	path := writeTestFile(t, content)
	chaosFS := NewChaos(NewReal(), 99, &ChaosConfig{PartialReadRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if diff := cmp.Diff(content, string(got)); diff != "" {
		t.Fatalf("content mismatch (-want +got):\n%s", diff)
	}

	if chaosFS.Stats().PartialReads == 0 {
		t.Fatalf("Stats().PartialReads=0, want > 0")
	}
}

func Test_Chaos_Short_Write_Returns_Prefix_Count_And_Nil_Error_When_Short_Write_Rate_Is_One(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.txt")
	chaosFS := NewChaos(NewReal(), 5, &ChaosConfig{ShortWriteRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	data := []byte("hello world")

	n, err := f.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if n <= 0 || n >= len(data) {
		t.Fatalf("n=%d, want 0 < n < %d", n, len(data))
	}

	_ = f.Close()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if diff := cmp.Diff(data[:n], got); diff != "" {
		t.Fatalf("on-disk prefix mismatch (-want +got):\n%s", diff)
	}
}

func Test_Chaos_Partial_Write_Returns_ErrShortWrite_When_Partial_Write_Rate_Is_One(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.txt")
	chaosFS := NewChaos(NewReal(), 5, &ChaosConfig{PartialWriteRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("hello world"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err=%v, want io.ErrShortWrite", err)
	}

	if !IsChaosErr(err) {
		t.Fatalf("IsChaosErr=false, want true")
	}

	if n <= 0 {
		t.Fatalf("n=%d, want > 0", n)
	}
}

func Test_Chaos_Close_Closes_Underlying_File_When_Close_Error_Is_Injected(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "x")
	chaosFS := NewChaos(NewReal(), 1, &ChaosConfig{CloseFailRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	err = f.Close()
	if !errors.Is(err, syscall.EIO) || !IsChaosErr(err) {
		t.Fatalf("Close: err=%v, want injected EIO", err)
	}

	// A second close reaching os.File proves the first one closed it.
	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("second Close: err=%v, want os.ErrClosed", err)
	}
}

func Test_Chaos_Injects_Same_Faults_When_Seed_Is_Same(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, strings.Repeat("z", 4096))
	cfg := &ChaosConfig{InterruptRate: 0.3, PartialReadRate: 0.3}

	run := func() ChaosStats {
		chaosFS := NewChaos(NewReal(), 42, cfg)

		f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer f.Close()

		buf := make([]byte, 64)
		for {
			_, err := f.Read(buf)
			if errors.Is(err, io.EOF) {
				break
			}
		}

		return chaosFS.Stats()
	}

	first, second := run(), run()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("stats differ between runs with the same seed (-first +second):\n%s", diff)
	}
}

func Test_Chaos_Trace_Marks_Injected_Events_When_Tracing_Is_Enabled(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "x")
	chaosFS := NewChaos(NewReal(), 1, &ChaosConfig{OpenFailFirst: 1, TraceCapacity: 2})

	_, _ = chaosFS.OpenFile(path, os.O_RDONLY, 0)

	f, err := chaosFS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_ = f.Close()

	events := chaosFS.TraceEvents()
	if got, want := len(events), 2; got != want {
		t.Fatalf("len(TraceEvents())=%d, want %d (ring buffer keeps the newest)", got, want)
	}

	if got, want := events[1].Op, "file.close"; got != want {
		t.Fatalf("last event Op=%q, want %q", got, want)
	}

	if events[0].Injected {
		t.Fatalf("events[0] injected, want the real open (oldest was evicted)")
	}

	if trace := chaosFS.Trace(); !strings.Contains(trace, "file.close") {
		t.Fatalf("Trace()=%q, want file.close entry", trace)
	}
}

func Test_Chaos_Trace_Is_Empty_When_Tracing_Is_Disabled(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 1, &ChaosConfig{OpenFailFirst: 1})
	_, _ = chaosFS.OpenFile(filepath.Join(t.TempDir(), "x"), os.O_RDONLY, 0)

	if got := chaosFS.Trace(); got != "" {
		t.Fatalf("Trace()=%q, want empty", got)
	}

	if got := chaosFS.TraceEvents(); got != nil {
		t.Fatalf("TraceEvents()=%v, want nil", got)
	}
}

func Test_NewChaos_Panics_When_Config_Is_Nil(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("NewChaos(nil config) did not panic")
		}
	}()

	NewChaos(NewReal(), 1, nil)
}
