package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/nimrodsync/internal/config"
	"github.com/lox/nimrodsync/internal/store"
)

type RunsCmd struct {
	Days   int `default:"7" help:"Days of history to summarise."`
	Errors int `default:"10" help:"Number of recent failures to list."`
}

func (c *RunsCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.LedgerPath == "" {
		return &config.ValidationError{Err: errors.New("no ledger configured (--ledger or ledger in the config file)")}
	}
	logger, err := g.logger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	days, err := st.Summary(time.Now().AddDate(0, 0, -c.Days))
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tRUNS\tOK\tFAILED\tWRITTEN\tSKIPPED")
	for _, d := range days {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", d.Date, d.TotalRuns, d.SuccessRuns, d.FailedRuns, d.FramesWritten, d.FramesSkipped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failed, err := st.RecentErrors(c.Errors)
	if err != nil {
		return fmt.Errorf("recent errors: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}
	fmt.Println()
	tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDATE-ID\tARCHIVE\tERROR")
	for _, r := range failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.StartedAt.Format(time.DateTime), r.DateID, r.Archive, r.ErrorMessage.String)
	}
	return tw.Flush()
}
