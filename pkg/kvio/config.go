package kvio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/kvio/pkg/fs"
	"github.com/tailscale/hujson"
)

const (
	// DefaultOpenRetries is the number of retries after a failed first open.
	DefaultOpenRetries = 5

	// DefaultOpenRetryDelay is the sleep before each open retry.
	DefaultOpenRetryDelay = 100 * time.Microsecond

	// MaxLine is the longest line the line-oriented tree format reads.
	MaxLine = 1024
)

// LockMethod selects the advisory lock primitive used by [IO.LockWrite].
type LockMethod string

const (
	// LockFlock uses flock(2). Locks belong to the open file description, so
	// two descriptors in one process exclude each other. Not reliable on all
	// NFS configurations.
	LockFlock LockMethod = "flock"

	// LockFcntl uses POSIX record locks (F_SETLKW, F_WRLCK, whole file).
	// Honored by NFS and most parallel filesystems. The descriptor must be
	// open for writing. Locks are per process: a second descriptor in the
	// same process does not block, and closing ANY descriptor of the file
	// in the process drops the lock.
	LockFcntl LockMethod = "fcntl"

	// LockOFD uses Linux open file description locks (F_OFD_SETLKW). Same
	// wire semantics as fcntl, but owned by the descriptor like flock.
	// Returns [errors.ErrUnsupported] on other systems.
	LockOFD LockMethod = "ofd"
)

// Config configures an [IO].
//
// Start from [DefaultConfig]; the zero value disables open retries.
type Config struct {
	// OpenRetries is the number of extra open attempts after the first one
	// fails. Zero disables retrying.
	OpenRetries int

	// OpenRetryDelay is slept before each retry.
	OpenRetryDelay time.Duration

	// SkipPermanentOpenErrors stops retrying as soon as open fails with an
	// error [IsPermanentOpenError] recognizes. Off by default: open retries
	// every failure class.
	SkipPermanentOpenErrors bool

	// LockMethod defaults to [LockFlock] when empty.
	LockMethod LockMethod

	// FS defaults to [fs.NewReal] when nil.
	FS fs.FS

	// Logger defaults to a logger that discards everything when nil.
	Logger *slog.Logger
}

// DefaultConfig returns the defaults: 5 retries, 100µs apart, flock locks.
func DefaultConfig() Config {
	return Config{
		OpenRetries:    DefaultOpenRetries,
		OpenRetryDelay: DefaultOpenRetryDelay,
		LockMethod:     LockFlock,
	}
}

// Validate reports the first invalid field, wrapped in [ErrInvalidConfig].
func (c Config) Validate() error {
	if c.OpenRetries < 0 {
		return fmt.Errorf("%w: open_retries must be >= 0, got %d", ErrInvalidConfig, c.OpenRetries)
	}

	if c.OpenRetryDelay < 0 {
		return fmt.Errorf("%w: open retry delay must be >= 0, got %s", ErrInvalidConfig, c.OpenRetryDelay)
	}

	switch c.LockMethod {
	case "", LockFlock, LockFcntl, LockOFD:
	default:
		return fmt.Errorf("%w: unknown lock_method %q (want flock, fcntl or ofd)", ErrInvalidConfig, c.LockMethod)
	}

	return nil
}

// fileConfig is the on-disk shape. Pointers distinguish "unset" from zero.
type fileConfig struct {
	OpenRetries             *int        `json:"open_retries"`
	OpenRetryUsec           *int64      `json:"open_retry_usec"`
	SkipPermanentOpenErrors *bool       `json:"skip_permanent_open_errors"`
	LockMethod              *LockMethod `json:"lock_method"`
}

// LoadConfig reads a JWCC (JSON with comments and trailing commas) config
// file on top of [DefaultConfig]. Unknown keys are rejected.
//
//	{
//	  // GPFS metadata servers can take a while to recover.
//	  "open_retries": 10,
//	  "open_retry_usec": 2000,
//	  "lock_method": "fcntl",
//	}
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	return parseConfig(path, data, DefaultConfig())
}

func parseConfig(path string, data []byte, base Config) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: invalid JSONC: %w", ErrInvalidConfig, path, err)
	}

	var fc fileConfig

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("%w %s: invalid JSON: %w", ErrInvalidConfig, path, err)
	}

	cfg := base

	if fc.OpenRetries != nil {
		cfg.OpenRetries = *fc.OpenRetries
	}

	if fc.OpenRetryUsec != nil {
		cfg.OpenRetryDelay = time.Duration(*fc.OpenRetryUsec) * time.Microsecond
	}

	if fc.SkipPermanentOpenErrors != nil {
		cfg.SkipPermanentOpenErrors = *fc.SkipPermanentOpenErrors
	}

	if fc.LockMethod != nil {
		cfg.LockMethod = *fc.LockMethod
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Environment variables read by [Config.ApplyEnv].
const (
	EnvOpenRetries             = "KVTREE_OPEN_RETRIES"
	EnvOpenRetryUsec           = "KVTREE_OPEN_USLEEP"
	EnvLockMethod              = "KVTREE_LOCK_METHOD"
	EnvSkipPermanentOpenErrors = "KVTREE_SKIP_PERMANENT_OPEN_ERRORS"
)

// ApplyEnv overrides fields from env. Empty values are ignored.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v := strings.TrimSpace(env[EnvOpenRetries]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvOpenRetries, v, err)
		}

		c.OpenRetries = n
	}

	if v := strings.TrimSpace(env[EnvOpenRetryUsec]); v != "" {
		usec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvOpenRetryUsec, v, err)
		}

		c.OpenRetryDelay = time.Duration(usec) * time.Microsecond
	}

	if v := strings.TrimSpace(env[EnvLockMethod]); v != "" {
		c.LockMethod = LockMethod(strings.ToLower(v))
	}

	if v := strings.TrimSpace(env[EnvSkipPermanentOpenErrors]); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvSkipPermanentOpenErrors, v, err)
		}

		c.SkipPermanentOpenErrors = skip
	}

	return c.Validate()
}
