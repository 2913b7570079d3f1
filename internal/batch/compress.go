package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/klauspost/compress/gzip"
)

// Compressor modes.
const (
	CompressAuto    = "auto"
	CompressProcess = "process"
	CompressBuiltin = "builtin"
)

// compressor is a streaming gzip sink. Close flushes, ends the stream and
// closes the output file.
type compressor interface {
	io.Writer
	Close() error
}

// openCompressor creates path and returns a compressor writing to it.
func openCompressor(mode, path string) (compressor, error) {
	if mode == CompressAuto || mode == "" {
		mode = CompressBuiltin
		if _, err := exec.LookPath("gzip"); err == nil {
			mode = CompressProcess
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	switch mode {
	case CompressProcess:
		c, err := startGzipProcess(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return c, nil
	case CompressBuiltin:
		bw := bufio.NewWriterSize(f, 256<<10)
		return &builtinCompressor{file: f, buf: bw, zw: gzip.NewWriter(bw)}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("unknown compressor %q", mode)
	}
}

type builtinCompressor struct {
	file *os.File
	buf  *bufio.Writer
	zw   *gzip.Writer
}

func (c *builtinCompressor) Write(p []byte) (int, error) { return c.zw.Write(p) }

func (c *builtinCompressor) Close() error {
	err := c.zw.Close()
	if err == nil {
		err = c.buf.Flush()
	}
	return errors.Join(err, c.file.Close())
}

// processCompressor pipes records through an external gzip process whose
// stdout is the output file.
type processCompressor struct {
	file  *os.File
	cmd   *exec.Cmd
	stdin io.WriteCloser
	buf   *bufio.Writer
}

func startGzipProcess(out *os.File) (*processCompressor, error) {
	cmd := exec.Command("gzip", "-c")
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("gzip stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start gzip: %w", err)
	}
	return &processCompressor{
		file:  out,
		cmd:   cmd,
		stdin: stdin,
		buf:   bufio.NewWriterSize(stdin, 256<<10),
	}, nil
}

func (c *processCompressor) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c *processCompressor) Close() error {
	flushErr := c.buf.Flush()
	closeErr := c.stdin.Close()
	var waitErr error
	if err := c.cmd.Wait(); err != nil {
		waitErr = fmt.Errorf("gzip exited: %w", err)
	}
	return errors.Join(flushErr, closeErr, waitErr, c.file.Close())
}
