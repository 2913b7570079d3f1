package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lox/nimrodsync/internal/metrics"
)

// PendingFactor scales the CPU count to the pending-job limit.
const PendingFactor = 1.4

// Options size the dispatcher.
type Options struct {
	// Workers is the number of jobs run at once.
	Workers int
	// MaxPending bounds queued plus running jobs. Submit blocks at the limit.
	MaxPending int
}

// DefaultOptions sizes the pool to the host's CPUs.
func DefaultOptions() Options {
	n := runtime.NumCPU()
	return Options{Workers: n, MaxPending: PendingLimit(n)}
}

// PendingLimit is the pending-job limit for n CPUs.
func PendingLimit(n int) int {
	return max(1, int(math.Ceil(float64(n)*PendingFactor)))
}

// Dispatcher tracks jobs through queued, running and a terminal state.
type Dispatcher struct {
	runner   Runner
	logger   *slog.Logger
	opts     Options
	pending  *semaphore.Weighted
	workers  *semaphore.Weighted
	outcomes chan Outcome
	wg       sync.WaitGroup

	mu     sync.Mutex
	states map[string]State
	closed bool
}

// New returns a Dispatcher that runs jobs with runner.
func New(runner Runner, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if runner == nil {
		return nil, errors.New("dispatch: nil runner")
	}
	if opts.Workers <= 0 || opts.MaxPending <= 0 {
		return nil, fmt.Errorf("dispatch: invalid pool size workers=%d pending=%d", opts.Workers, opts.MaxPending)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner:   runner,
		logger:   logger,
		opts:     opts,
		pending:  semaphore.NewWeighted(int64(opts.MaxPending)),
		workers:  semaphore.NewWeighted(int64(opts.Workers)),
		outcomes: make(chan Outcome, opts.MaxPending),
		states:   make(map[string]State),
	}, nil
}

// Outcomes delivers one Outcome per submitted job. It is closed by Close
// once every job has finished. Callers must drain it.
func (d *Dispatcher) Outcomes() <-chan Outcome {
	return d.outcomes
}

// Submit queues job, blocking while MaxPending jobs are queued or running.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if job.ID == "" {
		return ErrMissingID
	}
	if err := d.pending.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("submit %s: %w", job.ID, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.pending.Release(1)
		return ErrClosed
	}
	d.states[job.ID] = StateQueued
	d.wg.Add(1)
	d.mu.Unlock()

	metrics.JobsPending.Inc()
	d.logger.Debug("job queued", "job_id", job.ID, "archive", job.Archive)

	go d.run(ctx, job)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer d.wg.Done()
	defer metrics.JobsPending.Dec()
	defer d.pending.Release(1)

	start := time.Now()
	var res Result
	if err := d.workers.Acquire(ctx, 1); err != nil {
		res = Failed(job, fmt.Errorf("waiting for worker: %w", err))
	} else {
		d.setState(job.ID, StateRunning)
		res = d.runner.Run(ctx, job)
		d.workers.Release(1)
	}
	if res.JobID == "" {
		res.JobID = job.ID
	}

	out := Outcome{JobID: job.ID, Result: res, Duration: time.Since(start)}
	log := d.logger.With("job_id", job.ID, "archive", job.Archive, "duration", out.Duration)
	if res.Status == StatusSuccess {
		out.State = StateCompleted
		log.Info("job completed", "written", res.Written, "skipped", res.Skipped)
	} else {
		out.State = StateFailed
		out.Err = fmt.Errorf("job %s: %s", job.ID, res.Detail)
		log.Error("job failed", "detail", res.Detail)
	}
	d.cleanup(job, log)
	d.setState(job.ID, out.State)
	metrics.JobsTotal.WithLabelValues(out.State.String()).Inc()
	metrics.JobDuration.Observe(out.Duration.Seconds())

	d.outcomes <- out
}

// cleanup removes the job's temp dir and archive, which a crashed worker
// leaves behind. It runs before the pending slot is released.
func (d *Dispatcher) cleanup(job Job, log *slog.Logger) {
	if job.TempDir != "" {
		if err := os.RemoveAll(job.TempDir); err != nil {
			log.Warn("remove temp dir", "path", job.TempDir, "error", err)
		}
	}
	if job.Archive != "" {
		if err := os.Remove(job.Archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("remove archive", "error", err)
		}
	}
}

func (d *Dispatcher) setState(id string, s State) {
	d.mu.Lock()
	d.states[id] = s
	d.mu.Unlock()
}

// State reports the current state of the job with id.
func (d *Dispatcher) State(id string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[id]
}

// Stats counts jobs in each state.
func (d *Dispatcher) Stats() map[State]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[State]int)
	for _, s := range d.states {
		out[s]++
	}
	return out
}

// Close stops accepting jobs, waits for running jobs to finish and closes
// the outcome channel.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	close(d.outcomes)
}
