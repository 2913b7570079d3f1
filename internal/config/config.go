// Package config defines the typed run configuration, its defaults, the
// YAML file overlay and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/retry"
)

// Placeholder marks a value the operator has not filled in yet.
const Placeholder = "CHANGE_ME"

// Environment variables that override the remote credentials.
const (
	EnvUser     = "NIMROD_CEDA_USER"
	EnvPassword = "NIMROD_CEDA_PASSWORD"
)

// Isolation modes for archive jobs.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

// DefaultURL is the public 1 km UK composite archive.
const DefaultURL = "ftp://ftp.ceda.ac.uk/badc/ukmo-nimrod/data/composite/uk-1km"

type Config struct {
	Remote     Remote   `yaml:"remote"`
	OutputDir  string   `yaml:"output_dir"`
	ScratchDir string   `yaml:"scratch_dir"`
	Blacklist  []string `yaml:"blacklist"`
	Resume     bool     `yaml:"resume"`
	Retry      Retry    `yaml:"retry"`

	// Parallel is the number of concurrent downloads.
	Parallel int `yaml:"parallel"`
	// Workers and MaxPending size the job pool. Zero means derived from
	// the CPU count.
	Workers    int `yaml:"workers"`
	MaxPending int `yaml:"max_pending"`

	// Bounds crops every frame when set.
	Bounds     *geo.Box `yaml:"bounds"`
	Compressor string   `yaml:"compressor"`
	Isolation  string   `yaml:"isolation"`

	LedgerPath  string `yaml:"ledger"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

type Remote struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SharedSession     bool          `yaml:"shared_session"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown"`
}

type Retry struct {
	ListAttempts    int           `yaml:"list_attempts"`
	ListDelay       time.Duration `yaml:"list_delay"`
	FetchAttempts   int           `yaml:"fetch_attempts"`
	FetchDelay      time.Duration `yaml:"fetch_delay"`
	FetchMultiplier float64       `yaml:"fetch_multiplier"`
	FetchMaxDelay   time.Duration `yaml:"fetch_max_delay"`
	// FetchTimeout bounds a single download attempt.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ListPolicy is the retry policy for directory listings.
func (r Retry) ListPolicy() retry.Policy {
	return retry.Policy{Attempts: r.ListAttempts, Delay: r.ListDelay}
}

// FetchPolicy is the retry policy for one download.
func (r Retry) FetchPolicy() retry.Policy {
	return retry.Policy{
		Attempts:   r.FetchAttempts,
		Delay:      r.FetchDelay,
		Multiplier: r.FetchMultiplier,
		MaxDelay:   r.FetchMaxDelay,
		Timeout:    r.FetchTimeout,
	}
}

// Default returns a configuration with every optional value filled in.
// The URL is set but the credentials and output directory are left as
// placeholders.
func Default() Config {
	return Config{
		Remote: Remote{
			URL:               DefaultURL,
			Username:          Placeholder,
			Password:          Placeholder,
			DialTimeout:       30 * time.Second,
			ReconnectCooldown: 30 * time.Second,
		},
		OutputDir: Placeholder,
		Retry: Retry{
			ListAttempts:    3,
			ListDelay:       5 * time.Second,
			FetchAttempts:   5,
			FetchDelay:      10 * time.Second,
			FetchMultiplier: 2,
			FetchMaxDelay:   2 * time.Minute,
			FetchTimeout:    10 * time.Minute,
		},
		Parallel:   3,
		Compressor: "auto",
		Isolation:  IsolationProcess,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load reads path over the defaults, then applies the credential
// environment variables. An empty path loads only the defaults and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides the remote credentials from the environment.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvUser); ok {
		c.Remote.Username = v
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		c.Remote.Password = v
	}
}

// ParseBounds builds a crop box from two "lat,lon" strings. Both empty
// means no crop.
func ParseBounds(topLeft, bottomRight string) (*geo.Box, error) {
	if topLeft == "" && bottomRight == "" {
		return nil, nil
	}
	if topLeft == "" || bottomRight == "" {
		return nil, errors.New("bounds need both a top-left and a bottom-right corner")
	}
	tl, err := geo.ParseLatLon(topLeft)
	if err != nil {
		return nil, fmt.Errorf("top-left: %w", err)
	}
	br, err := geo.ParseLatLon(bottomRight)
	if err != nil {
		return nil, fmt.Errorf("bottom-right: %w", err)
	}
	return &geo.Box{TopLeft: tl, BottomRight: br}, nil
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.ReplaceAll(e.Err.Error(), "\n", "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks the settings a download run needs. It does not touch
// the network.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}
	unset := func(v string) bool { return v == "" || v == Placeholder }

	if unset(c.Remote.URL) {
		add("remote url is not set")
	}
	if unset(c.Remote.Username) {
		add("remote username is not set (config file or %s)", EnvUser)
	}
	if unset(c.Remote.Password) {
		add("remote password is not set (config file or %s)", EnvPassword)
	}
	if unset(c.OutputDir) {
		add("output directory is not set")
	} else if fi, err := os.Stat(c.OutputDir); err != nil {
		add("output directory %s does not exist", c.OutputDir)
	} else if !fi.IsDir() {
		add("output directory %s is not a directory", c.OutputDir)
	}
	if b := c.Bounds; b != nil {
		for name, p := range map[string]geo.LatLon{"top_left": b.TopLeft, "bottom_right": b.BottomRight} {
			if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
				add("bounds %s %v is out of range", name, p)
			}
		}
	}

	if c.Retry.ListAttempts <= 0 {
		add("retry list_attempts must be positive")
	}
	if c.Retry.FetchAttempts <= 0 {
		add("retry fetch_attempts must be positive")
	}
	if c.Retry.ListDelay < 0 || c.Retry.FetchDelay < 0 || c.Retry.FetchMaxDelay < 0 {
		add("retry delays must not be negative")
	}
	if c.Retry.FetchTimeout <= 0 {
		add("retry fetch_timeout must be positive")
	}
	if c.Parallel <= 0 {
		add("parallel must be positive")
	}
	if c.Workers < 0 || c.MaxPending < 0 {
		add("workers and max_pending must not be negative")
	}

	switch c.Compressor {
	case "auto", "process", "builtin":
	default:
		add("unknown compressor %q", c.Compressor)
	}
	switch c.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		add("unknown isolation %q", c.Isolation)
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Err: errors.Join(problems...)}
}
