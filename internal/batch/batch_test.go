package batch

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/nimrodsync/internal/dispatch"
	"github.com/lox/nimrodsync/internal/frame"
	"github.com/lox/nimrodsync/internal/nimrod/nimrodtest"
)

func composite(t *testing.T, minute int, value int64, zip bool) []byte {
	t.Helper()
	f := nimrodtest.New(time.Date(2019, 1, 2, 0, minute, 0, 0, time.UTC), 1, 2, 200000, 300000, 100000, 600000)
	f.Raw = []int64{value * 32, value * 64}
	b := f.Bytes()
	if !zip {
		return b
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTar(t *testing.T, path string, files map[string][]byte, order []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	tw := tar.NewWriter(f)
	for _, name := range order {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func readRecords(t *testing.T, path string) []frame.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var recs []frame.Record
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		var r frame.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

type fixture struct {
	archive string
	tmp     string
	output  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		archive: filepath.Join(dir, "metoffice-c-band-rain-radar_uk_20190102_1km-composite.dat.gz.tar"),
		tmp:     filepath.Join(dir, "work"),
		output:  filepath.Join(dir, "20190102.jsonl.gz"),
	}
	require.NoError(t, os.Mkdir(fx.tmp, 0o755))

	files := map[string][]byte{
		"20190102_0010.dat.gz": composite(t, 10, 2, true),
		"20190102_0005.dat":    composite(t, 5, 1, false),
		"20190102_0015.dat.gz": []byte("corrupt"),
		"20190102_0020.dat":    composite(t, 20, 3, false),
	}
	// archive order differs from filename order
	writeTar(t, fx.archive, files, []string{"20190102_0010.dat.gz", "20190102_0020.dat", "20190102_0015.dat.gz", "20190102_0005.dat"})
	return fx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractArchive(t *testing.T) {
	modes := []string{CompressBuiltin, CompressProcess}
	for _, mode := range modes {
		t.Run(mode, func(t *testing.T) {
			if mode == CompressProcess {
				if _, err := exec.LookPath("gzip"); err != nil {
					t.Skip("gzip not installed")
				}
			}
			fx := newFixture(t)

			stats, err := New(nil, quietLogger()).Extract(context.Background(), Input{
				Archive:    fx.archive,
				Output:     fx.output,
				TempDir:    fx.tmp,
				Compressor: mode,
			})
			require.NoError(t, err)
			assert.Equal(t, Stats{Files: 4, Written: 3, Skipped: 1}, stats)

			recs := readRecords(t, fx.output)
			require.Len(t, recs, 3)
			for i, minute := range []int{5, 10, 20} {
				assert.Equal(t, minute, recs[i].Timestamp.Minute(), "record %d", i)
			}
			assert.Equal(t, [][]float64{{1, 2}}, recs[0].Data)
			assert.Equal(t, [][]float64{{3, 6}}, recs[2].Data)

			assert.NoDirExists(t, fx.tmp)
			assert.NoFileExists(t, fx.archive)
			assert.NoFileExists(t, fx.output+".partial")
		})
	}
}

func TestExtractMissingInputs(t *testing.T) {
	fx := newFixture(t)
	ext := New(nil, quietLogger())

	_, err := ext.Extract(context.Background(), Input{Archive: fx.archive, Output: fx.output, TempDir: filepath.Join(fx.tmp, "nope")})
	assert.ErrorContains(t, err, "temp dir")

	_, err = ext.Extract(context.Background(), Input{Archive: fx.archive + ".missing", Output: fx.output, TempDir: fx.tmp})
	assert.ErrorContains(t, err, "archive")

	assert.FileExists(t, fx.archive)
	assert.NoFileExists(t, fx.output)
}

func TestExtractCleansUpOnBadArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.tar")
	tmp := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(tmp, 0o755))
	require.NoError(t, os.WriteFile(archive, bytes.Repeat([]byte{0xff}, 1024), 0o644))

	_, err := New(nil, quietLogger()).Extract(context.Background(), Input{
		Archive: archive, Output: filepath.Join(dir, "out.jsonl.gz"), TempDir: tmp,
	})
	assert.Error(t, err)
	assert.NoFileExists(t, archive)
	assert.NoDirExists(t, tmp)
}

func TestHandleReportsResult(t *testing.T) {
	fx := newFixture(t)
	res := New(nil, quietLogger()).Handle(context.Background(), dispatch.Job{
		ID:         "20190102",
		Archive:    fx.archive,
		Output:     fx.output,
		TempDir:    fx.tmp,
		Compressor: CompressBuiltin,
	})
	assert.Equal(t, dispatch.StatusSuccess, res.Status)
	assert.Equal(t, "20190102", res.JobID)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, 1, res.Skipped)

	res = New(nil, quietLogger()).Handle(context.Background(), dispatch.Job{ID: "gone", Archive: fx.archive, TempDir: fx.tmp})
	assert.Equal(t, dispatch.StatusError, res.Status)
	assert.NotEmpty(t, res.Detail)
}

func TestUntarRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar")
	writeTar(t, archive, map[string][]byte{"../escape.dat": []byte("x")}, []string{"../escape.dat"})

	_, err := untar(archive, filepath.Join(dir, "work"))
	assert.ErrorContains(t, err, "escapes")
	assert.NoFileExists(t, filepath.Join(dir, "escape.dat"))
}
