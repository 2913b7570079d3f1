// Package dispatch runs archive jobs on a bounded pool of isolated workers.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/lox/nimrodsync/internal/geo"
)

// Job is one archive to unpack, decode and compress.
type Job struct {
	ID         string   `json:"id"`
	Archive    string   `json:"archive"`
	Output     string   `json:"output"`
	TempDir    string   `json:"temp_dir"`
	Bounds     *geo.Box `json:"bounds,omitempty"`
	Compressor string   `json:"compressor,omitempty"`
}

// Status is the worker-reported outcome of a job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is what a worker reports back across the process boundary.
type Result struct {
	JobID   string `json:"job_id"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Files   int    `json:"files"`
	Written int    `json:"written"`
	Skipped int    `json:"skipped"`
}

// Failed returns an error result for job.
func Failed(job Job, err error) Result {
	return Result{JobID: job.ID, Status: StatusError, Detail: err.Error()}
}

// State is a job's position in the dispatcher.
type State int

const (
	StateUnknown State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is sent on the dispatcher's outcome channel when a job finishes.
// Err is set when State is StateFailed.
type Outcome struct {
	JobID    string
	State    State
	Result   Result
	Err      error
	Duration time.Duration
}

// Handler processes a job in the current process.
type Handler func(ctx context.Context, job Job) Result

// Runner executes a job somewhere and returns its result. Runners never
// return a fault; failures are reported as StatusError results.
type Runner interface {
	Run(ctx context.Context, job Job) Result
}

var (
	ErrClosed    = errors.New("dispatch: dispatcher closed")
	ErrMissingID = errors.New("dispatch: job has no id")
)
