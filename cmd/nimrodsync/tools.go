package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lox/nimrodsync/internal/extract"
	"github.com/lox/nimrodsync/internal/frame"
	"github.com/lox/nimrodsync/internal/geo"
)

type BoundsCmd struct {
	File string `arg:"" type:"existingfile" help:"Composite file, optionally gzipped."`
}

func (c *BoundsCmd) Run() error {
	f, err := frame.DecodeFile(c.File)
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}
	h := f.Header
	fc := geo.Outline(h.Corners, geo.NationalGrid{}, map[string]any{
		"validity_time": h.ValidityTime,
		"rows":          h.Rows,
		"cols":          h.Cols,
		"legacy":        h.Legacy,
	})
	return printJSON(fc)
}

type ExtractAreaCmd struct {
	File string `arg:"" type:"existingfile" help:"Composite file, optionally gzipped."`
}

func (c *ExtractAreaCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	ing := frame.NewIngestor(extract.New(nil, logger), cfg.Bounds)
	rec, err := ing.IngestFile(c.File)
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}
	fmt.Fprintf(os.Stderr, "full grid %dx%d (%d points), extracted %dx%d (%d points)\n",
		rec.SizeFull.Width, rec.SizeFull.Height, rec.CountTotal,
		rec.Size.Width, rec.Size.Height, rec.Count)
	return frame.WriteLine(os.Stdout, rec)
}

type InspectCmd struct {
	File string `arg:"" type:"existingfile" help:"Composite file, optionally gzipped."`
}

func (c *InspectCmd) Run() error {
	f, err := frame.DecodeFile(c.File)
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}
	return printJSON(f.Header)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
