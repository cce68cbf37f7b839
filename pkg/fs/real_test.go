package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func Test_RealFS_Access_Returns_ErrNotExist_When_Path_Does_Not_Exist(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "does-not-exist.txt")

	err := fsys.Access(path, AccessRead)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want=%v", err, os.ErrNotExist)
	}

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("err should be *os.PathError, got %T", err)
	}

	if got, want := pathErr.Op, "access"; got != want {
		t.Fatalf("PathError.Op=%q, want=%q", got, want)
	}
}

func Test_RealFS_Access_Returns_Nil_When_File_Is_Readable(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "exists.txt")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := fsys.Access(path, AccessRead|AccessWrite); err != nil {
		t.Fatalf("err=%v, want=nil", err)
	}
}

func Test_RealFS_Access_Returns_Nil_When_Path_Is_A_Directory(t *testing.T) {
	t.Parallel()

	fsys := NewReal()

	if err := fsys.Access(t.TempDir(), AccessRead|AccessExecute); err != nil {
		t.Fatalf("err=%v, want=nil", err)
	}
}

func Test_RealFS_Access_Returns_ErrPermission_When_File_Mode_Denies_Read(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "secret.txt")

	if err := os.WriteFile(path, []byte("x"), 0o000); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := fsys.Access(path, AccessRead)
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("err=%v, want=%v", err, os.ErrPermission)
	}
}

func Test_RealFS_OpenFile_Returns_OS_File_When_Opening_Existing_Path(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "exists.txt")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, ok := f.(*os.File); !ok {
		t.Fatalf("OpenFile returned %T, want *os.File", f)
	}

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("content=%q, want=%q", got, "hello")
	}
}
