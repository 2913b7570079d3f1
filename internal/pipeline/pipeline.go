// Package pipeline wires the crawler, the fetcher and the job dispatcher
// into one download run.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lox/nimrodsync/internal/crawl"
	"github.com/lox/nimrodsync/internal/dispatch"
	"github.com/lox/nimrodsync/internal/fetch"
	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/metrics"
	"github.com/lox/nimrodsync/internal/retry"
	"github.com/lox/nimrodsync/internal/store"
)

// ErrInfrastructure marks setup failures that abort a run before any
// archive is processed.
var ErrInfrastructure = errors.New("infrastructure failure")

// Remote is the connection the run lists and downloads through.
type Remote interface {
	crawl.Lister
	fetch.Transport
	Connect(ctx context.Context) error
	Close() error
}

type Options struct {
	Root      string
	OutputDir string
	// ScratchDir holds downloads and unpacked archives. Empty means a
	// fresh temporary directory removed at the end of the run.
	ScratchDir string
	Blacklist  []string
	Resume     bool

	Parallel   int
	ListRetry  retry.Policy
	FetchRetry retry.Policy

	Bounds     *geo.Box
	Compressor string
	Dispatch   dispatch.Options

	// Ledger records each job when set.
	Ledger *store.Store
	Logger *slog.Logger
}

// Summary counts what a run did.
type Summary struct {
	Submitted     int
	Completed     int
	Failed        int
	FramesWritten int
	FramesSkipped int
}

type Orchestrator struct {
	remote Remote
	runner dispatch.Runner
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	runs    map[string]*store.IngestRun
	summary Summary
}

func New(remote Remote, runner dispatch.Runner, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	def := dispatch.DefaultOptions()
	if opts.Dispatch.Workers <= 0 {
		opts.Dispatch.Workers = def.Workers
	}
	if opts.Dispatch.MaxPending <= 0 {
		opts.Dispatch.MaxPending = max(def.MaxPending, opts.Dispatch.Workers)
	}
	return &Orchestrator{
		remote: remote,
		runner: runner,
		opts:   opts,
		logger: opts.Logger,
		runs:   make(map[string]*store.IngestRun),
	}
}

// Run downloads and processes every pending archive. Failed jobs are
// logged and counted but do not stop the run. Crawl and fetch failures
// do, after in-flight jobs finish. The remote connection is closed last.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if wrote, err := WriteCompanion(o.opts.OutputDir); err != nil {
		o.logger.Warn("could not write companion script", "error", err)
	} else if wrote {
		o.logger.Info("wrote companion script", "path", filepath.Join(o.opts.OutputDir, CompanionScript))
	}

	var existing map[string]bool
	if o.opts.Resume {
		ids, err := crawl.ExistingDateIDs(o.opts.OutputDir)
		if err != nil {
			return Summary{}, err
		}
		existing = ids
		o.logger.Info("resuming", "existing", len(ids))
	}

	scratch := o.opts.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "nimrodsync-")
		if err != nil {
			return Summary{}, fmt.Errorf("%w: scratch dir: %w", ErrInfrastructure, err)
		}
		defer os.RemoveAll(dir)
		scratch = dir
	}

	if err := o.remote.Connect(ctx); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	defer o.closeRemote()

	d, err := dispatch.New(o.runner, o.opts.Dispatch, o.logger)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for out := range d.Outcomes() {
			o.record(out)
		}
	}()

	crawler := crawl.New(o.remote, crawl.Options{
		Root:      o.opts.Root,
		Blacklist: o.opts.Blacklist,
		Existing:  existing,
		Listing:   o.listPolicy(),
		Logger:    o.logger,
	})
	fetcher := fetch.New(o.remote, fetch.Options{
		Parallel:   o.opts.Parallel,
		ScratchDir: filepath.Join(scratch, "download"),
		Retry:      o.opts.FetchRetry,
		Logger:     o.logger,
	})

	runErr := fetcher.Run(ctx, crawler.Walk(ctx), func(_ context.Context, dl fetch.Download) error {
		return o.submit(ctx, d, scratch, dl)
	})

	// jobs already submitted still finish
	d.Close()
	<-drained

	o.mu.Lock()
	summary := o.summary
	o.mu.Unlock()
	o.logger.Info("run finished",
		"submitted", summary.Submitted,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"frames_written", summary.FramesWritten,
		"frames_skipped", summary.FramesSkipped,
	)
	if runErr != nil {
		return summary, fmt.Errorf("pipeline: %w", runErr)
	}
	return summary, nil
}

func (o *Orchestrator) listPolicy() retry.Policy {
	p := o.opts.ListRetry
	p.OnFailure = func(ctx context.Context, attempt int, err error) {
		metrics.RemoteRetries.WithLabelValues("list").Inc()
		o.logger.Warn("listing failed, reconnecting", "attempt", attempt, "error", err)
		if rerr := o.remote.ForceReconnect(ctx); rerr != nil {
			o.logger.Warn("reconnect failed", "error", rerr)
		}
	}
	return p
}

// submit turns a finished download into a job. ctx is the run context so
// that jobs outlive the fetch stage.
func (o *Orchestrator) submit(ctx context.Context, d *dispatch.Dispatcher, scratch string, dl fetch.Download) error {
	id := dl.Ref.DateID
	tmp, err := os.MkdirTemp(scratch, id+"-")
	if err != nil {
		os.Remove(dl.LocalPath)
		return fmt.Errorf("job %s: temp dir: %w", id, err)
	}
	job := dispatch.Job{
		ID:         id,
		Archive:    dl.LocalPath,
		Output:     filepath.Join(o.opts.OutputDir, id+crawl.OutputSuffix),
		TempDir:    tmp,
		Bounds:     o.opts.Bounds,
		Compressor: o.opts.Compressor,
	}

	o.startRun(job, dl)
	if err := d.Submit(ctx, job); err != nil {
		os.RemoveAll(tmp)
		os.Remove(dl.LocalPath)
		o.record(dispatch.Outcome{
			JobID:  id,
			State:  dispatch.StateFailed,
			Result: dispatch.Failed(job, err),
			Err:    err,
		})
		return err
	}

	o.mu.Lock()
	o.summary.Submitted++
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) startRun(job dispatch.Job, dl fetch.Download) {
	if o.opts.Ledger == nil {
		return
	}
	run, err := o.opts.Ledger.StartRun(job.ID, dl.Ref.Path, job.Output, dl.Duration)
	if err != nil {
		o.logger.Warn("ledger: start run", "job_id", job.ID, "error", err)
		return
	}
	o.mu.Lock()
	o.runs[job.ID] = run
	o.mu.Unlock()
}

func (o *Orchestrator) record(out dispatch.Outcome) {
	res := out.Result
	metrics.FramesTotal.WithLabelValues("written").Add(float64(res.Written))
	metrics.FramesTotal.WithLabelValues("skipped").Add(float64(res.Skipped))

	o.mu.Lock()
	if out.State == dispatch.StateCompleted {
		o.summary.Completed++
	} else {
		o.summary.Failed++
	}
	o.summary.FramesWritten += res.Written
	o.summary.FramesSkipped += res.Skipped
	run := o.runs[out.JobID]
	delete(o.runs, out.JobID)
	o.mu.Unlock()

	if run == nil {
		return
	}
	run.Success = out.State == dispatch.StateCompleted
	run.Files = sql.NullInt64{Int64: int64(res.Files), Valid: true}
	run.FramesWritten = sql.NullInt64{Int64: int64(res.Written), Valid: true}
	run.FramesSkipped = sql.NullInt64{Int64: int64(res.Skipped), Valid: true}
	if out.Err != nil {
		run.ErrorMessage = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	if err := o.opts.Ledger.CompleteRun(run); err != nil {
		o.logger.Warn("ledger: complete run", "job_id", out.JobID, "error", err)
	}
}

func (o *Orchestrator) closeRemote() {
	if err := o.remote.Close(); err != nil {
		o.logger.Warn("closing remote connection", "error", err)
	}
}
