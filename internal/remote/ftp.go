package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/nimrodsync/internal/retry"
)

const defaultFTPPort = "21"

// Endpoint is a parsed remote URL.
type Endpoint struct {
	Addr string
	Root string
}

// ParseURL splits ftp://host[:port]/root into a dial address and root path.
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "ftp" {
		return Endpoint{}, fmt.Errorf("remote url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("remote url %q: missing host", raw)
	}
	port := u.Port()
	if port == "" {
		port = defaultFTPPort
	}
	root := path.Clean("/" + strings.TrimPrefix(u.Path, "/"))
	return Endpoint{Addr: net.JoinHostPort(u.Hostname(), port), Root: root}, nil
}

// FTPConfig holds connection settings for FTPDialer.
type FTPConfig struct {
	Addr        string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// FTPDialer returns a Dialer that opens logged-in FTP sessions.
func FTPDialer(cfg FTPConfig) Dialer {
	return func(ctx context.Context) (Client, error) {
		conn, err := ftp.Dial(cfg.Addr,
			ftp.DialWithTimeout(cfg.DialTimeout),
			ftp.DialWithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("ftp dial %s: %w", cfg.Addr, err)
		}
		if err := conn.Login(cfg.Username, cfg.Password); err != nil {
			conn.Quit()
			// bad credentials will not fix themselves
			return nil, retry.Permanent(fmt.Errorf("ftp login as %s: %w", cfg.Username, err))
		}
		return &ftpClient{conn: conn}, nil
	}
}

type ftpClient struct {
	conn *ftp.ServerConn
}

func (c *ftpClient) List(ctx context.Context, dir string) ([]Entry, error) {
	// the control connection cannot be interrupted any other way
	stop := context.AfterFunc(ctx, func() { c.conn.Quit() })
	defer stop()

	entries, err := c.conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, Entry{
			Name: e.Name,
			Dir:  e.Type == ftp.EntryTypeFolder,
			Size: e.Size,
			Time: e.Time,
		})
	}
	return out, nil
}

func (c *ftpClient) Download(ctx context.Context, remotePath, localPath string) error {
	// a RETR stuck on the control connection only returns once it is closed
	quit := context.AfterFunc(ctx, func() { c.conn.Quit() })
	defer quit()

	resp, err := c.conn.Retr(remotePath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ftp retr: %w", errors.Join(ctxErr, err))
		}
		return fmt.Errorf("ftp retr: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		resp.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { resp.SetDeadline(time.Now()) })
	defer stop()

	// a timed-out attempt may still be draining into its own temp file
	f, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".*.part")
	if err != nil {
		resp.Close()
		return err
	}
	tmp := f.Name()
	_, copyErr := io.Copy(f, resp)
	closeErr := f.Close()
	respErr := resp.Close()
	for _, err := range []error{copyErr, closeErr, respErr} {
		if err != nil {
			os.Remove(tmp)
			return fmt.Errorf("ftp transfer: %w", err)
		}
	}
	return os.Rename(tmp, localPath)
}

func (c *ftpClient) Close() error {
	return c.conn.Quit()
}
