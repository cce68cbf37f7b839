package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/calvinalkan/kvio/pkg/kvio"
)

// maxWriters keeps every writer's fill byte a distinct lowercase letter.
const maxWriters = 26

var errInterleaved = errors.New("writers interleaved")

// workerResult is printed as one JSON line by each writer process.
type workerResult struct {
	ID          int           `json:"id"`
	Rounds      int           `json:"rounds"`
	Bytes       int64         `json:"bytes"`
	LockWait    time.Duration `json:"lock_wait_ns"`
	MaxLockWait time.Duration `json:"max_lock_wait_ns"`
}

func writerByte(id int) byte {
	return 'a' + byte(id-1)
}

func runWorker(ctx context.Context, kio *kvio.IO, opts options, out io.Writer) error {
	if opts.WorkerID > maxWriters {
		return fmt.Errorf("writer id %d out of range", opts.WorkerID)
	}

	record := bytes.Repeat([]byte{writerByte(opts.WorkerID)}, opts.Size)
	readBack := make([]byte, opts.Size)
	res := workerResult{ID: opts.WorkerID}

	for range opts.Rounds {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()

		lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
		lf, err := kio.OpenWithLockContext(lockCtx, opts.Path, os.O_RDWR|os.O_CREATE, kvio.GetMode(true, true, false))
		cancel()

		if err != nil {
			return err
		}

		wait := time.Since(start)
		res.LockWait += wait
		res.MaxLockWait = max(res.MaxLockWait, wait)

		err = overwrite(kio, lf, record, readBack, opts.Chunk)
		if err := errors.Join(err, lf.Close()); err != nil {
			return err
		}

		res.Rounds++
		res.Bytes += int64(len(record))
	}

	return json.NewEncoder(out).Encode(res)
}

// overwrite replaces the file's first len(record) bytes with record in
// chunk-sized writes, then reads them back while the lock is still held.
func overwrite(kio *kvio.IO, lf *kvio.LockedFile, record, readBack []byte, chunk int) error {
	path := lf.Path()

	if _, err := lf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}

	for off := 0; off < len(record); off += chunk {
		end := min(off+chunk, len(record))

		if _, err := kio.WriteAttempt(path, lf, record[off:end]); err != nil {
			return err
		}
	}

	if _, err := lf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}

	n, err := kio.ReadAttempt(path, lf, readBack)
	if err != nil {
		return err
	}

	if n != len(record) || !bytes.Equal(readBack, record) {
		return fmt.Errorf("%w: record at %s changed while locked", errInterleaved, path)
	}

	return nil
}
