// Package remote manages the connection to the archive server.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/nimrodsync/internal/metrics"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Dir  bool
	Size uint64
	Time time.Time
}

// Client is a single session with the remote server. Sessions are not safe
// for concurrent use.
type Client interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Download(ctx context.Context, remotePath, localPath string) error
	Close() error
}

// Dialer opens a new session.
type Dialer func(ctx context.Context) (Client, error)

// ErrNotConnected is returned before Connect or after Close.
var ErrNotConnected = errors.New("remote: not connected")

// TransferError wraps a failed remote operation with what was attempted.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DefaultCooldown is the minimum interval between forced reconnects.
const DefaultCooldown = 30 * time.Second

// Options configure a Manager.
type Options struct {
	// SharedSession runs downloads over the listing session, one at a
	// time. Otherwise every download dials its own session.
	SharedSession bool
	Cooldown      time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Manager owns the shared session used for listings and, optionally,
// transfers.
type Manager struct {
	dial   Dialer
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger

	// opMu serialises operations on the shared session.
	opMu sync.Mutex

	mu            sync.Mutex
	session       Client
	closed        bool
	lastReconnect time.Time
}

// NewManager returns a Manager. Call Connect before use.
func NewManager(dial Dialer, opts Options) *Manager {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{dial: dial, opts: opts, clock: opts.Clock, logger: opts.Logger}
}

// Connect opens the shared session.
func (m *Manager) Connect(ctx context.Context) error {
	s, err := m.dial(ctx)
	if err != nil {
		return &TransferError{Op: "connect", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Close()
	}
	m.session = s
	m.closed = false
	return nil
}

// shared returns the shared session, redialling if a previous reconnect
// left it unset.
func (m *Manager) shared(ctx context.Context) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNotConnected
	}
	if m.session == nil {
		s, err := m.dial(ctx)
		if err != nil {
			return nil, err
		}
		m.session = s
	}
	return m.session, nil
}

// List lists dir over the shared session.
func (m *Manager) List(ctx context.Context, dir string) ([]Entry, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s, err := m.shared(ctx)
	if err != nil {
		return nil, &TransferError{Op: "list", Path: dir, Err: err}
	}
	entries, err := s.List(ctx, dir)
	if err != nil {
		return nil, &TransferError{Op: "list", Path: dir, Err: err}
	}
	return entries, nil
}

// Download fetches remotePath into localPath.
func (m *Manager) Download(ctx context.Context, remotePath, localPath string) error {
	if m.opts.SharedSession {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		s, err := m.shared(ctx)
		if err != nil {
			return &TransferError{Op: "download", Path: remotePath, Err: err}
		}
		if err := s.Download(ctx, remotePath, localPath); err != nil {
			return &TransferError{Op: "download", Path: remotePath, Err: err}
		}
		return nil
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return &TransferError{Op: "download", Path: remotePath, Err: ErrNotConnected}
	}
	c, err := m.dial(ctx)
	if err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	defer c.Close()
	if err := c.Download(ctx, remotePath, localPath); err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	return nil
}

// ForceReconnect replaces the shared session. Within the cooldown window
// after a reconnect it waits for the window to end instead.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if !m.lastReconnect.IsZero() {
		if wait := m.opts.Cooldown - m.clock.Since(m.lastReconnect); wait > 0 {
			m.mu.Unlock()
			m.logger.Debug("reconnect cooling down", "wait", wait)
			select {
			case <-m.clock.After(wait):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	m.lastReconnect = m.clock.Now()
	old := m.session
	m.session = nil
	m.mu.Unlock()

	metrics.Reconnects.Inc()
	m.logger.Warn("forcing reconnect")
	if old != nil {
		old.Close()
	}
	s, err := m.dial(ctx)
	if err != nil {
		return &TransferError{Op: "reconnect", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.session != nil {
		s.Close()
		return nil
	}
	m.session = s
	return nil
}

// Close ends the shared session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}
