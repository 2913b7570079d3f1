package main

import (
	"context"
	"os"

	"github.com/lox/nimrodsync/internal/batch"
	"github.com/lox/nimrodsync/internal/dispatch"
	"github.com/lox/nimrodsync/internal/logging"
)

// WorkerCmd is the child side of the process runner. Results go to
// stdout, logs to stderr as JSON.
type WorkerCmd struct{}

func (c *WorkerCmd) Run(g *Globals, ctx context.Context) error {
	logger, err := logging.New(os.Stderr, g.LogLevel, "json")
	if err != nil {
		return err
	}
	logger = logger.With("worker_pid", os.Getpid())
	return dispatch.ServeWorker(ctx, os.Stdin, os.Stdout, batch.New(nil, logger).Handle)
}
