package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/kvio/pkg/kvio"
)

// Report summarises one kvio-stress run.
type Report struct {
	Path         string          `json:"path"`
	LockMethod   kvio.LockMethod `json:"lock_method"`
	Writers      int             `json:"writers"`
	Rounds       int             `json:"rounds"`
	RecordSize   int             `json:"record_size"`
	TotalBytes   int64           `json:"total_bytes"`
	Elapsed      time.Duration   `json:"elapsed_ns"`
	MeanLockWait time.Duration   `json:"mean_lock_wait_ns"`
	MaxLockWait  time.Duration   `json:"max_lock_wait_ns"`

	// Owner is the writer whose record survived. Zero when the file is not a
	// single complete record.
	Owner   int            `json:"owner"`
	OK      bool           `json:"ok"`
	Problem string         `json:"problem,omitempty"`
	Results []workerResult `json:"results"`
}

func runParent(ctx context.Context, kio *kvio.IO, opts options, argv0 string) (Report, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = argv0
	}

	report := Report{
		Path:       opts.Path,
		LockMethod: kio.Config().LockMethod,
		Writers:    opts.Writers,
		Rounds:     opts.Rounds,
		RecordSize: opts.Size,
	}

	if err := truncate(kio, opts.Path); err != nil {
		return report, err
	}

	results := make([]workerResult, opts.Writers)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	for i := range opts.Writers {
		g.Go(func() error {
			id := i + 1

			var stdout, stderr bytes.Buffer

			cmd := exec.CommandContext(gctx, exe, workerArgs(opts, report.LockMethod, id)...)
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			if err := cmd.Run(); err != nil {
				return fmt.Errorf("writer %d: %w: %s", id, err, strings.TrimSpace(stderr.String()))
			}

			if err := json.Unmarshal(stdout.Bytes(), &results[i]); err != nil {
				return fmt.Errorf("writer %d: decoding result: %w", id, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Elapsed = time.Since(start)
	report.Results = results

	var totalWait time.Duration

	for _, r := range results {
		report.TotalBytes += r.Bytes
		totalWait += r.LockWait
		report.MaxLockWait = max(report.MaxLockWait, r.MaxLockWait)
	}

	if rounds := opts.Writers * opts.Rounds; rounds > 0 {
		report.MeanLockWait = totalWait / time.Duration(rounds)
	}

	data, err := readAll(kio, opts.Path, opts.Size)
	if err != nil {
		return report, err
	}

	report.Owner, err = verifyRecord(data, opts.Size, opts.Writers)
	if err != nil {
		report.Problem = err.Error()
	}

	report.OK = err == nil

	return report, nil
}

func workerArgs(opts options, method kvio.LockMethod, id int) []string {
	args := []string{
		"--worker", strconv.Itoa(id),
		"--rounds", strconv.Itoa(opts.Rounds),
		"--size", strconv.Itoa(opts.Size),
		"--chunk", strconv.Itoa(opts.Chunk),
		"--lock-method", string(method),
		"--lock-timeout", opts.LockTimeout.String(),
	}

	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}

	if opts.Verbose {
		args = append(args, "--verbose")
	}

	return append(args, opts.Path)
}

func truncate(kio *kvio.IO, path string) error {
	f, err := kio.Open(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, kvio.GetMode(true, true, false))
	if err != nil {
		return err
	}

	return kio.Close(path, f)
}

// readAll reads up to size+1 bytes so an oversized file is detected.
func readAll(kio *kvio.IO, path string, size int) ([]byte, error) {
	f, err := kio.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size+1)

	n, readErr := kio.ReadAttempt(path, f, buf)
	closeErr := f.Close()

	if readErr != nil {
		return nil, readErr
	}

	if closeErr != nil {
		return nil, closeErr
	}

	return buf[:n], nil
}

// verifyRecord checks data is exactly one writer's record and returns that
// writer's id.
func verifyRecord(data []byte, size, writers int) (int, error) {
	if len(data) != size {
		return 0, fmt.Errorf("%w: file holds %d bytes, want %d", errInterleaved, len(data), size)
	}

	if size == 0 {
		return 0, nil
	}

	owner := int(data[0]-'a') + 1
	if owner < 1 || owner > writers {
		return 0, fmt.Errorf("%w: unexpected byte %q at offset 0", errInterleaved, data[0])
	}

	if i := bytes.IndexFunc(data, func(r rune) bool { return r != rune(data[0]) }); i >= 0 {
		return 0, fmt.Errorf("%w: writer %d record broken at offset %d by %q", errInterleaved, owner, i, data[i])
	}

	return owner, nil
}

func printReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "path:        %s\n", r.Path)
	fmt.Fprintf(w, "lock method: %s\n", r.LockMethod)
	fmt.Fprintf(w, "writers:     %d x %d rounds of %s\n", r.Writers, r.Rounds, units.BytesSize(float64(r.RecordSize)))
	fmt.Fprintf(w, "written:     %s in %s\n", units.BytesSize(float64(r.TotalBytes)), r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "lock wait:   mean %s, max %s\n", r.MeanLockWait.Round(time.Microsecond), r.MaxLockWait.Round(time.Microsecond))

	if r.OK {
		fmt.Fprintf(w, "result:      OK (record of writer %d)\n", r.Owner)

		return
	}

	fmt.Fprintf(w, "result:      FAIL: %s\n", r.Problem)
}

func writeReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}
