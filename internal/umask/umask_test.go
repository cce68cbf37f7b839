package umask

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_Get_Returns_Mask_Set_By_Set_When_Called(t *testing.T) {
	prev := Set(0o027)
	t.Cleanup(func() { Set(prev) })

	if got, want := Get(), os.FileMode(0o027); got != want {
		t.Fatalf("Get()=%#o, want %#o", got, want)
	}

	// Get must not have modified the mask.
	if got, want := Get(), os.FileMode(0o027); got != want {
		t.Fatalf("second Get()=%#o, want %#o", got, want)
	}
}

func Test_Get_Falls_Back_To_Swap_When_Status_File_Is_Missing(t *testing.T) {
	prev := Set(0o022)
	t.Cleanup(func() { Set(prev) })

	orig := statusPath
	statusPath = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { statusPath = orig })

	if got, want := Get(), os.FileMode(0o022); got != want {
		t.Fatalf("Get()=%#o, want %#o", got, want)
	}

	if got, want := Set(0o022), os.FileMode(0o022); got != want {
		t.Fatalf("mask after swap=%#o, want %#o (not restored)", got, want)
	}
}

func Test_FromStatus_Parses_Umask_Line_When_Present(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	content := "Name:\tkvio\nUmask:\t0077\nState:\tR (running)\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, ok := fromStatus(path)
	if !ok {
		t.Fatalf("fromStatus(%q): ok=false, want true", path)
	}

	if want := os.FileMode(0o077); got != want {
		t.Fatalf("fromStatus=%#o, want %#o", got, want)
	}
}

func Test_FromStatus_Reports_Not_Ok_When_Umask_Line_Is_Absent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")

	if err := os.WriteFile(path, []byte("Name:\tkvio\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, ok := fromStatus(path); ok {
		t.Fatalf("fromStatus(%q): ok=true, want false", path)
	}
}
