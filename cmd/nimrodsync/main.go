package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/nimrodsync/internal/config"
	"github.com/lox/nimrodsync/internal/logging"
)

// Globals are flags shared by every subcommand. Zero values leave the
// config file setting alone.
type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Load environment variables (e.g. NIMROD_CEDA_USER) from a .env file.'"`

	Config            string `short:"c" type:"path" help:"YAML config file."`
	LogLevel          string `help:"Log level: debug, info, warn or error."`
	LogFormat         string `help:"Log format: text or json."`
	BoundsTopLeft     string `name:"bounds-topleft" placeholder:"LAT,LON" help:"Top-left corner of the crop area."`
	BoundsBottomRight string `name:"bounds-bottomright" placeholder:"LAT,LON" help:"Bottom-right corner of the crop area."`
	Ledger            string `type:"path" help:"SQLite run ledger."`
}

type CLI struct {
	Globals

	Download    DownloadCmd    `cmd:"" default:"1" help:"Download every archive, crop each frame and write one compressed file per day."`
	Worker      WorkerCmd      `cmd:"" hidden:"" help:"Process one archive job read from stdin."`
	Bounds      BoundsCmd      `cmd:"" help:"Print the grid extent of a composite file as GeoJSON."`
	ExtractArea ExtractAreaCmd `cmd:"" name:"extract-area" help:"Decode one composite file, crop it and print the record."`
	Inspect     InspectCmd     `cmd:"" help:"Print the decoded header of a composite file."`
	Runs        RunsCmd        `cmd:"" help:"Summarise the run ledger."`
}

// load resolves the configuration: defaults, then the file, then the
// environment, then flags.
func (g *Globals) load() (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return cfg, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.LogFormat = g.LogFormat
	}
	if g.Ledger != "" {
		cfg.LedgerPath = g.Ledger
	}
	box, err := config.ParseBounds(g.BoundsTopLeft, g.BoundsBottomRight)
	if err != nil {
		return cfg, &config.ValidationError{Err: err}
	}
	if box != nil {
		cfg.Bounds = box
	}
	return cfg, nil
}

func (g *Globals) logger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(w, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, &config.ValidationError{Err: err}
	}
	slog.SetDefault(logger)
	return logger, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nimrodsync"),
		kong.Description("Mirror, crop and compress Nimrod rainfall radar composites."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "nimrodsync: %v\n", err)
	os.Exit(exitCode(err))
}
