package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	units "github.com/docker/go-units"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kvio/pkg/kvio"
)

var errUsage = errors.New("usage")

// options holds the parsed command line.
type options struct {
	Path        string
	Writers     int
	Rounds      int
	Size        int
	Chunk       int
	LockMethod  kvio.LockMethod
	ConfigPath  string
	ReportPath  string
	LockTimeout time.Duration
	Verbose     bool

	// WorkerID is set in re-executed writer processes. Zero in the parent.
	WorkerID int
}

func newFlagSet(opts *options) (*flag.FlagSet, *string, *string, *string) {
	fs := flag.NewFlagSet("kvio-stress", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.IntVarP(&opts.Writers, "writers", "w", min(runtime.NumCPU(), 8), "Number of writer processes (at most 26)")
	fs.IntVarP(&opts.Rounds, "rounds", "r", 20, "Locked overwrites per writer")
	size := fs.StringP("size", "s", "64KiB", "Record size written per round (e.g. 4k, 1MiB)")
	chunk := fs.String("chunk", "4KiB", "Size of each write call within a record")
	method := fs.StringP("lock-method", "m", "", "Lock method: flock, fcntl or ofd (default from config)")
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "JWCC kvio config file")
	fs.StringVar(&opts.ReportPath, "report", "", "Write a JSON report to this path")
	fs.DurationVar(&opts.LockTimeout, "lock-timeout", 30*time.Second, "Give up waiting for a lock after this long")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log kvio retries to stderr")
	fs.IntVar(&opts.WorkerID, "worker", 0, "Run as writer N (internal)")
	_ = fs.MarkHidden("worker")

	return fs, size, chunk, method
}

func parseArgs(args []string) (options, *flag.FlagSet, error) {
	var opts options

	fs, size, chunk, method := newFlagSet(&opts)

	if err := fs.Parse(args); err != nil {
		return opts, fs, err
	}

	if fs.NArg() != 1 {
		return opts, fs, fmt.Errorf("%w: expected exactly one <path>, got %d", errUsage, fs.NArg())
	}

	opts.Path = fs.Arg(0)
	opts.LockMethod = kvio.LockMethod(strings.ToLower(*method))

	n, err := units.RAMInBytes(*size)
	if err != nil || n <= 0 {
		return opts, fs, fmt.Errorf("%w: invalid --size %q", errUsage, *size)
	}

	opts.Size = int(n)

	n, err = units.RAMInBytes(*chunk)
	if err != nil || n <= 0 {
		return opts, fs, fmt.Errorf("%w: invalid --chunk %q", errUsage, *chunk)
	}

	opts.Chunk = int(n)

	if opts.Writers < 1 || opts.Writers > maxWriters {
		return opts, fs, fmt.Errorf("%w: --writers must be between 1 and %d", errUsage, maxWriters)
	}

	if opts.Rounds < 1 {
		return opts, fs, fmt.Errorf("%w: --rounds must be >= 1", errUsage)
	}

	return opts, fs, nil
}

// Run executes kvio-stress and returns the process exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env map[string]string) int {
	if len(args) == 0 {
		args = []string{"kvio-stress"}
	}

	opts, fs, err := parseArgs(args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, fs)

			return 0
		}

		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, fs)

		return 2
	}

	kio, err := newIO(opts, env, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if opts.WorkerID > 0 {
		if err := runWorker(ctx, kio, opts, out); err != nil {
			fmt.Fprintf(errOut, "error: writer %d: %v\n", opts.WorkerID, err)

			return 1
		}

		return 0
	}

	report, err := runParent(ctx, kio, opts, args[0])
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	printReport(out, report)

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, report); err != nil {
			fmt.Fprintln(errOut, "error:", err)

			return 1
		}
	}

	if !report.OK {
		return 1
	}

	return 0
}

// newIO builds the kvio configuration: defaults, then the config file, then
// KVTREE_* environment, then flags.
func newIO(opts options, env map[string]string, errOut io.Writer) (*kvio.IO, error) {
	cfg := kvio.DefaultConfig()

	if opts.ConfigPath != "" {
		loaded, err := kvio.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}

	if opts.LockMethod != "" {
		cfg.LockMethod = opts.LockMethod
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}

	cfg.Logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})).
		With("writer", opts.WorkerID)

	return kvio.New(cfg)
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, "Usage: kvio-stress [flags] <path>\n\n")
	fmt.Fprint(w, "Runs writer processes that contend on <path> through kvio locked writes,\n")
	fmt.Fprint(w, "then checks the file holds one writer's complete record.\n\n")
	fmt.Fprint(w, "Flags:\n")

	if fs != nil {
		fs.SetOutput(w)
		fs.PrintDefaults()
	}

	fmt.Fprint(w, "\nExamples:\n")
	fmt.Fprint(w, "  kvio-stress /lustre/scratch/ckpt.kvt                 # defaults\n")
	fmt.Fprint(w, "  kvio-stress -m fcntl -w 16 -s 1MiB /nfs/ckpt.kvt       # NFS with POSIX locks\n")
	fmt.Fprint(w, "  KVTREE_OPEN_RETRIES=20 kvio-stress --report r.json x  # more open retries\n")
}
