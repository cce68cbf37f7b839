// Package main provides kvio-stress, a contention test for kvio locked
// writes.
//
// It starts N writer processes that repeatedly overwrite one shared file
// through kvio.OpenWithLock, each with a record of its own byte. When all
// writers are done the file must hold exactly one writer's record. Any
// interleaving means the lock method does not serialise writers on that
// filesystem.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exitCode := Run(ctx, os.Stdout, os.Stderr, os.Args, env)

	stop()
	os.Exit(exitCode)
}
