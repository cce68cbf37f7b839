package kvio

import (
	"os"

	"github.com/calvinalkan/kvio/internal/umask"
)

// GetMode returns the permission bits a new file or directory should get for
// the requested capabilities, filtered through the process umask.
//
// read, write and execute each grant the bit to user, group and other; the
// umask then removes bits, it never adds any. With umask 022,
// GetMode(true, true, false) is 0644. The umask is left unchanged.
func GetMode(read, write, execute bool) os.FileMode {
	var bits os.FileMode

	if read {
		bits |= 0o444
	}

	if write {
		bits |= 0o222
	}

	if execute {
		bits |= 0o111
	}

	return bits &^ umask.Get()
}
