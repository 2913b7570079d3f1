package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
)

// InProcess runs jobs on goroutines in this process, converting panics to
// error results. A fault that corrupts memory or exits the process is not
// contained; use ProcessRunner for that.
type InProcess struct {
	Handler Handler
}

func (r InProcess) Run(ctx context.Context, job Job) Result {
	return safeCall(ctx, r.Handler, job)
}

func safeCall(ctx context.Context, h Handler, job Job) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{
				JobID:  job.ID,
				Status: StatusError,
				Detail: fmt.Sprintf("panic: %v\n%s", p, debug.Stack()),
			}
		}
	}()
	return h(ctx, job)
}

// ProcessRunner runs each job in a fresh child process speaking the
// worker protocol: one JSON Job on stdin, one JSON Result on stdout.
type ProcessRunner struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
}

// NewProcessRunner re-executes the current binary with args.
func NewProcessRunner(args ...string) (*ProcessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve worker executable: %w", err)
	}
	return &ProcessRunner{Path: exe, Args: args}, nil
}

func (r *ProcessRunner) Run(ctx context.Context, job Job) Result {
	payload, err := json.Marshal(job)
	if err != nil {
		return Failed(job, fmt.Errorf("encode job: %w", err))
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, r.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	runErr := cmd.Run()

	var res Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); err != nil {
		if runErr != nil {
			return Failed(job, fmt.Errorf("worker exited: %w", runErr))
		}
		return Failed(job, fmt.Errorf("decode worker result: %w", err))
	}
	if runErr != nil && res.Status == StatusSuccess {
		return Failed(job, fmt.Errorf("worker exited after success: %w", runErr))
	}
	if res.Status != StatusSuccess && res.Status != StatusError {
		return Failed(job, fmt.Errorf("worker reported unknown status %q", res.Status))
	}
	res.Detail = strings.TrimSpace(res.Detail)
	return res
}

// ServeWorker is the child side of ProcessRunner. It reads one job from r,
// runs h and writes the result to w. Panics in h become error results.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	var job Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	res := safeCall(ctx, h, job)
	if res.JobID == "" {
		res.JobID = job.ID
	}
	return json.NewEncoder(w).Encode(res)
}
