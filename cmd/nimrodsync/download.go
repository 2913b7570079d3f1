package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lox/nimrodsync/internal/batch"
	"github.com/lox/nimrodsync/internal/config"
	"github.com/lox/nimrodsync/internal/dispatch"
	"github.com/lox/nimrodsync/internal/metrics"
	"github.com/lox/nimrodsync/internal/pipeline"
	"github.com/lox/nimrodsync/internal/remote"
	"github.com/lox/nimrodsync/internal/store"
)

type DownloadCmd struct {
	Output      string   `short:"o" type:"path" help:"Output directory. Must exist."`
	URL         string   `name:"url" help:"Remote archive root, ftp://host[:port]/path."`
	Blacklist   []string `help:"Archive filename to skip. Repeatable."`
	Resume      bool     `help:"Skip archives whose output file already exists."`
	Parallel    int      `help:"Concurrent downloads."`
	Workers     int      `help:"Concurrent archive jobs."`
	Isolation   string   `help:"Run archive jobs in a child process (process) or on goroutines (inprocess)."`
	Compressor  string   `help:"Output compressor: auto, process or builtin."`
	MetricsAddr string   `help:"Serve Prometheus metrics on this address."`
}

func (c *DownloadCmd) apply(cfg *config.Config) {
	if c.Output != "" {
		cfg.OutputDir = c.Output
	}
	if c.URL != "" {
		cfg.Remote.URL = c.URL
	}
	cfg.Blacklist = append(cfg.Blacklist, c.Blacklist...)
	if c.Resume {
		cfg.Resume = true
	}
	if c.Parallel != 0 {
		cfg.Parallel = c.Parallel
	}
	if c.Workers != 0 {
		cfg.Workers = c.Workers
	}
	if c.Isolation != "" {
		cfg.Isolation = c.Isolation
	}
	if c.Compressor != "" {
		cfg.Compressor = c.Compressor
	}
	if c.MetricsAddr != "" {
		cfg.MetricsAddr = c.MetricsAddr
	}
}

func (c *DownloadCmd) Run(g *Globals, ctx context.Context) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	c.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := g.logger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	endpoint, err := remote.ParseURL(cfg.Remote.URL)
	if err != nil {
		return &config.ValidationError{Err: err}
	}

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrInfrastructure, err)
	}

	var ledger *store.Store
	if cfg.LedgerPath != "" {
		ledger, err = store.Open(cfg.LedgerPath, logger)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrInfrastructure, err)
		}
		defer ledger.Close()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	manager := remote.NewManager(
		remote.FTPDialer(remote.FTPConfig{
			Addr:        endpoint.Addr,
			Username:    cfg.Remote.Username,
			Password:    cfg.Remote.Password,
			DialTimeout: cfg.Remote.DialTimeout,
		}),
		remote.Options{
			SharedSession: cfg.Remote.SharedSession,
			Cooldown:      cfg.Remote.ReconnectCooldown,
			Logger:        logger,
		},
	)

	logger.Info("starting download",
		"remote", endpoint.Addr,
		"root", endpoint.Root,
		"output", cfg.OutputDir,
		"parallel", cfg.Parallel,
		"isolation", cfg.Isolation,
		"cropped", cfg.Bounds != nil,
	)
	orch := pipeline.New(manager, runner, pipeline.Options{
		Root:       endpoint.Root,
		OutputDir:  cfg.OutputDir,
		ScratchDir: cfg.ScratchDir,
		Blacklist:  cfg.Blacklist,
		Resume:     cfg.Resume,
		Parallel:   cfg.Parallel,
		ListRetry:  cfg.Retry.ListPolicy(),
		FetchRetry: cfg.Retry.FetchPolicy(),
		Bounds:     cfg.Bounds,
		Compressor: cfg.Compressor,
		Dispatch:   dispatch.Options{Workers: cfg.Workers, MaxPending: cfg.MaxPending},
		Ledger:     ledger,
		Logger:     logger,
	})
	_, err = orch.Run(ctx)
	return err
}

func newRunner(cfg config.Config, logger *slog.Logger) (dispatch.Runner, error) {
	if cfg.Isolation == config.IsolationInProcess {
		return dispatch.InProcess{Handler: batch.New(nil, logger).Handle}, nil
	}
	return dispatch.NewProcessRunner("worker", "--log-level="+cfg.LogLevel)
}
