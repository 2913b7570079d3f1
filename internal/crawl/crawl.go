// Package crawl walks the remote archive tree in canonical order.
package crawl

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/nimrodsync/internal/remote"
	"github.com/lox/nimrodsync/internal/retry"
)

// OutputSuffix is appended to a date-id to name its output file.
const OutputSuffix = ".jsonl.gz"

// FirstSupportedYear is the earliest year whose files decode correctly.
const FirstSupportedYear = 2006

var (
	yearPattern   = regexp.MustCompile(`^\d{4}$`)
	digitsPattern = regexp.MustCompile(`\d+`)
)

// Ref is one remote archive.
type Ref struct {
	Path   string
	Name   string
	Year   int
	DateID string
}

// DateID returns the first run of digits in name.
func DateID(name string) string {
	return digitsPattern.FindString(name)
}

// Lister lists a remote directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]remote.Entry, error)
}

// Options configure a Crawler.
type Options struct {
	Root      string
	Blacklist []string
	// Existing holds date-ids to skip when resuming.
	Existing map[string]bool
	// Listing is the retry policy for each directory listing.
	Listing retry.Policy
	Logger  *slog.Logger
}

// Crawler yields archives year by year, then by filename.
type Crawler struct {
	lister    Lister
	opts      Options
	blacklist map[string]bool
	logger    *slog.Logger
}

// New returns a Crawler over lister.
func New(lister Lister, opts Options) *Crawler {
	if opts.Root == "" {
		opts.Root = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	bl := make(map[string]bool, len(opts.Blacklist))
	for _, name := range opts.Blacklist {
		bl[name] = true
	}
	return &Crawler{lister: lister, opts: opts, blacklist: bl, logger: opts.Logger}
}

// Walk yields archives lazily. A listing that exhausts its retries is
// yielded as an error and ends the walk.
func (c *Crawler) Walk(ctx context.Context) iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		years, err := c.years(ctx)
		if err != nil {
			yield(Ref{}, err)
			return
		}
		for _, year := range years {
			dir := path.Join(c.opts.Root, strconv.Itoa(year))
			names, err := c.files(ctx, dir)
			if err != nil {
				yield(Ref{}, err)
				return
			}
			for _, name := range names {
				if c.blacklist[name] {
					c.logger.Info("skipping blacklisted file", "file", name)
					continue
				}
				id := DateID(name)
				if id == "" {
					c.logger.Warn("no date in filename, skipping", "file", name)
					continue
				}
				if c.opts.Existing[id] {
					c.logger.Debug("output exists, skipping", "file", name, "date_id", id)
					continue
				}
				if !yield(Ref{Path: path.Join(dir, name), Name: name, Year: year, DateID: id}, nil) {
					return
				}
			}
		}
	}
}

func (c *Crawler) list(ctx context.Context, dir string) ([]remote.Entry, error) {
	policy := c.opts.Listing
	policy.Name = "list " + dir
	var entries []remote.Entry
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		entries, err = c.lister.List(ctx, dir)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}
	return entries, nil
}

func (c *Crawler) years(ctx context.Context) ([]int, error) {
	entries, err := c.list(ctx, c.opts.Root)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, e := range entries {
		if !e.Dir || !yearPattern.MatchString(e.Name) {
			continue
		}
		year, _ := strconv.Atoi(e.Name)
		if year < FirstSupportedYear {
			c.logger.Warn("skipping year with incompatible format", "year", year)
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

func (c *Crawler) files(ctx context.Context, dir string) ([]string, error) {
	entries, err := c.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Dir {
			continue
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ExistingDateIDs returns the date-ids that already have an output file in
// dir.
func ExistingDateIDs(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}
	ids := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, OutputSuffix) {
			continue
		}
		if id := strings.TrimSuffix(name, OutputSuffix); id != "" {
			ids[id] = true
		}
	}
	return ids, nil
}
