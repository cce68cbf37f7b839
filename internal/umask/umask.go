// Package umask reads the process file-creation mask without leaving it
// modified.
//
// The umask is process-wide state. The only portable way to read it is
// umask(2), which also sets it. Get first tries the non-destructive
// /proc/self/status "Umask:" field (Linux 4.7+). Otherwise it swaps the mask
// under a package mutex and restores it immediately.
//
// The mutex only serialises callers of this package. Files created by other
// goroutines during the swap window observe the temporary mask; the temporary
// value is 0o077 so such files are never more permissive than intended.
package umask

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// probeMask is installed for the instant between the two umask(2) calls.
const probeMask = 0o077

var mu sync.Mutex

// statusPath is swapped in tests.
var statusPath = "/proc/self/status"

// Get returns the current umask. The mask is unchanged when Get returns.
func Get() os.FileMode {
	mu.Lock()
	defer mu.Unlock()

	if m, ok := fromStatus(statusPath); ok {
		return m
	}

	return swap()
}

// Set replaces the umask and returns the previous value. It takes the same
// lock as Get so a concurrent Get never restores a stale mask over it.
func Set(mask os.FileMode) os.FileMode {
	mu.Lock()
	defer mu.Unlock()

	return os.FileMode(unix.Umask(int(mask.Perm()))) & os.ModePerm
}

// swap must be called with mu held.
func swap() os.FileMode {
	old := unix.Umask(probeMask)
	unix.Umask(old)

	return os.FileMode(old) & os.ModePerm
}

// fromStatus parses the "Umask:\t0022" line of a proc status file.
func fromStatus(path string) (os.FileMode, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		value, ok := bytes.CutPrefix(sc.Bytes(), []byte("Umask:"))
		if !ok {
			continue
		}

		m, err := strconv.ParseUint(string(bytes.TrimSpace(value)), 8, 32)
		if err != nil {
			return 0, false
		}

		return os.FileMode(m) & os.ModePerm, true
	}

	return 0, false
}
