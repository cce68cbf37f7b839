//go:build !linux

package kvio

import (
	"errors"
	"fmt"
)

func ofdLockFunc() (lockFunc, error) {
	return nil, fmt.Errorf("kvio: lock_method %q: %w", LockOFD, errors.ErrUnsupported)
}
