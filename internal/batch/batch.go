// Package batch turns one downloaded archive of composite files into one
// compressed JSON-lines output file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lox/nimrodsync/internal/dispatch"
	"github.com/lox/nimrodsync/internal/extract"
	"github.com/lox/nimrodsync/internal/frame"
	"github.com/lox/nimrodsync/internal/geo"
)

// Stats summarises one archive.
type Stats struct {
	Files   int
	Written int
	Skipped int
	Empty   int
}

// Input names the inputs and output of one archive.
type Input struct {
	Archive    string
	Output     string
	TempDir    string
	Box        *geo.Box
	Compressor string
}

// Extractor processes archives.
type Extractor struct {
	transform geo.Transform
	logger    *slog.Logger
}

// New returns an Extractor. A nil transform means geo.NationalGrid.
func New(transform geo.Transform, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{transform: transform, logger: logger}
}

// Extract unpacks in.Archive into in.TempDir and writes one record per
// contained file, in filename order, to in.Output. Files that fail to
// decode are logged and skipped. The temp directory and the archive are
// removed afterwards whether or not every file succeeded.
func (e *Extractor) Extract(ctx context.Context, in Input) (Stats, error) {
	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := requireExists(in.TempDir, true); err != nil {
		return stats, fmt.Errorf("temp dir: %w", err)
	}
	if err := requireExists(in.Archive, false); err != nil {
		return stats, fmt.Errorf("archive: %w", err)
	}

	logger := e.logger.With("archive", filepath.Base(in.Archive))
	defer func() {
		if err := os.RemoveAll(in.TempDir); err != nil {
			logger.Warn("remove temp dir", "path", in.TempDir, "error", err)
		}
		if err := os.Remove(in.Archive); err != nil {
			logger.Warn("remove archive", "error", err)
		}
	}()

	names, err := untar(in.Archive, in.TempDir)
	if err != nil {
		return stats, fmt.Errorf("unpack %s: %w", in.Archive, err)
	}
	stats.Files = len(names)

	partial := in.Output + ".partial"
	out, err := openCompressor(in.Compressor, partial)
	if err != nil {
		return stats, fmt.Errorf("open output %s: %w", partial, err)
	}

	ingestor := frame.NewIngestor(extract.New(e.transform, logger), in.Box)
	for _, name := range names {
		rec, err := ingestor.IngestFile(filepath.Join(in.TempDir, name))
		switch {
		case errors.Is(err, extract.ErrEmpty):
			stats.Empty++
			logger.Debug("empty crop area, no record", "file", name)
			continue
		case err != nil:
			stats.Skipped++
			logger.Warn("skipping file", "file", name, "error", err)
			continue
		}
		if err := frame.WriteLine(out, rec); err != nil {
			out.Close()
			os.Remove(partial)
			return stats, fmt.Errorf("write record for %s: %w", name, err)
		}
		stats.Written++
	}

	if err := out.Close(); err != nil {
		os.Remove(partial)
		return stats, fmt.Errorf("finish output %s: %w", in.Output, err)
	}
	if err := os.Rename(partial, in.Output); err != nil {
		return stats, fmt.Errorf("publish output: %w", err)
	}

	logger.Info("archive extracted",
		"files", stats.Files,
		"written", stats.Written,
		"skipped", stats.Skipped,
		"empty", stats.Empty,
		"output", in.Output)
	return stats, nil
}

// Handle adapts Extract to the dispatcher's job protocol.
func (e *Extractor) Handle(ctx context.Context, job dispatch.Job) dispatch.Result {
	stats, err := e.Extract(ctx, Input{
		Archive:    job.Archive,
		Output:     job.Output,
		TempDir:    job.TempDir,
		Box:        job.Bounds,
		Compressor: job.Compressor,
	})
	res := dispatch.Result{
		JobID:   job.ID,
		Status:  dispatch.StatusSuccess,
		Files:   stats.Files,
		Written: stats.Written,
		Skipped: stats.Skipped,
	}
	if err != nil {
		res.Status = dispatch.StatusError
		res.Detail = err.Error()
	}
	return res
}

func requireExists(path string, dir bool) error {
	if path == "" {
		return errors.New("path not set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() != dir {
		return fmt.Errorf("%s: unexpected file type", path)
	}
	return nil
}
