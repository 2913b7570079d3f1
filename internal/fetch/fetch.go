// Package fetch downloads crawled archives with bounded parallelism.
package fetch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/nimrodsync/internal/crawl"
	"github.com/lox/nimrodsync/internal/metrics"
	"github.com/lox/nimrodsync/internal/retry"
)

// Download is a finished transfer.
type Download struct {
	Ref       crawl.Ref
	LocalPath string
	Duration  time.Duration
}

// Transport moves files and can replace its connection.
type Transport interface {
	Download(ctx context.Context, remotePath, localPath string) error
	ForceReconnect(ctx context.Context) error
}

// Options configure a Fetcher.
type Options struct {
	// Parallel is the maximum number of transfers in flight.
	Parallel   int
	ScratchDir string
	// Retry applies to each file. Its OnFailure hook is replaced with a
	// forced reconnect.
	Retry  retry.Policy
	Logger *slog.Logger
}

// Fetcher downloads archives into a scratch directory.
type Fetcher struct {
	transport Transport
	opts      Options
	logger    *slog.Logger
}

// New returns a Fetcher.
func New(transport Transport, opts Options) *Fetcher {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{transport: transport, opts: opts, logger: opts.Logger}
}

// Run downloads every ref and calls emit once per finished download, in
// completion order. emit is never called concurrently. The first crawl
// error, exhausted download or emit error cancels outstanding transfers
// and is returned.
func (f *Fetcher) Run(ctx context.Context, refs iter.Seq2[crawl.Ref, error], emit func(context.Context, Download) error) error {
	if err := os.MkdirAll(f.opts.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallel)

	var emitMu sync.Mutex
	var crawlErr error
	seq := 0
	for ref, err := range refs {
		if err != nil {
			crawlErr = err
			cancel()
			break
		}
		if gctx.Err() != nil {
			break
		}
		local := filepath.Join(f.opts.ScratchDir, fmt.Sprintf("%d-%s", seq, ref.Name))
		seq++

		// blocks while Parallel transfers are in flight
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := f.fetch(gctx, ref, local)
			if err != nil {
				return err
			}
			emitMu.Lock()
			defer emitMu.Unlock()
			if err := gctx.Err(); err != nil {
				os.Remove(d.LocalPath)
				return err
			}
			return emit(gctx, d)
		})
	}

	err := g.Wait()
	if crawlErr != nil {
		return crawlErr
	}
	return err
}

func (f *Fetcher) fetch(ctx context.Context, ref crawl.Ref, local string) (Download, error) {
	logger := f.logger.With("file", ref.Name, "year", ref.Year)
	policy := f.opts.Retry
	policy.Name = "download " + ref.Path
	policy.OnFailure = func(ctx context.Context, attempt int, err error) {
		metrics.RemoteRetries.WithLabelValues("download").Inc()
		logger.Warn("download failed, reconnecting", "attempt", attempt, "error", err)
		if rerr := f.transport.ForceReconnect(ctx); rerr != nil {
			logger.Warn("reconnect failed", "error", rerr)
		}
	}

	start := time.Now()
	logger.Debug("downloading", "path", ref.Path)
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return f.transport.Download(ctx, ref.Path, local)
	})
	d := Download{Ref: ref, LocalPath: local, Duration: time.Since(start)}
	metrics.FetchDuration.Observe(d.Duration.Seconds())
	if err != nil {
		metrics.ArchivesFetched.WithLabelValues("failed").Inc()
		os.Remove(local)
		return d, fmt.Errorf("fetch %s: %w", ref.Path, err)
	}
	metrics.ArchivesFetched.WithLabelValues("ok").Inc()
	logger.Info("downloaded", "duration", d.Duration)
	return d, nil
}
