package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/nimrodsync/internal/extract"
	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/nimrod"
	"github.com/lox/nimrodsync/internal/nimrod/nimrodtest"
)

var validity = time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)

func compositeBytes() []byte {
	f := nimrodtest.New(validity, 2, 3, 200000, 300000, 100000, 600000)
	f.Raw = []int64{32, 64, 96, 128, 160, 192}
	return f.Bytes()
}

func gzipped(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestIngestPlainAndGzipped(t *testing.T) {
	ing := NewIngestor(extract.New(nil, nil), nil)

	for name, input := range map[string][]byte{
		"plain":   compositeBytes(),
		"gzipped": gzipped(t, compositeBytes()),
	} {
		t.Run(name, func(t *testing.T) {
			rec, err := ing.Ingest(bytes.NewReader(input))
			require.NoError(t, err)

			assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, rec.Data)
			assert.Equal(t, validity, rec.Timestamp)
			assert.Equal(t, [2]time.Time{validity, validity}, rec.Timestamps)
			assert.Equal(t, geo.Size{Width: 3, Height: 2}, rec.SizeFull)
			assert.Equal(t, rec.SizeFull, rec.Size)
			assert.Equal(t, 6, rec.CountTotal)
			assert.Equal(t, 6, rec.Count)
			assert.Nil(t, rec.BoundsExtract)
		})
	}
}

func TestIngestFormatError(t *testing.T) {
	ing := NewIngestor(extract.New(nil, nil), nil)
	_, err := ing.Ingest(bytes.NewReader([]byte("not a composite")))

	var fe *nimrod.FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestIngestFileCropped(t *testing.T) {
	tr := geo.NationalGrid{}
	box := &geo.Box{
		TopLeft:     tr.ToLatLon(geo.GridRef{Northing: 190000, Easting: 410000}),
		BottomRight: tr.ToLatLon(geo.GridRef{Northing: 90000, Easting: 610000}),
	}
	path := filepath.Join(t.TempDir(), "frame.dat.gz")
	require.NoError(t, os.WriteFile(path, gzipped(t, compositeBytes()), 0o644))

	rec, err := NewIngestor(extract.New(tr, nil), box).IngestFile(path)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{2, 3}, {5, 6}}, rec.Data)
	assert.Equal(t, geo.Size{Width: 2, Height: 2}, rec.Size)
	assert.Equal(t, 4, rec.Count)
	assert.Equal(t, 6, rec.CountTotal)
	assert.Equal(t, box, rec.BoundsExtract)
}

func TestWriteLine(t *testing.T) {
	rec, err := NewIngestor(extract.New(nil, nil), nil).Ingest(bytes.NewReader(compositeBytes()))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, rec))
	line := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "2020-06-15T12:00:00Z", got["timestamp"])
	assert.Contains(t, got, "bounds_full")
	assert.NotContains(t, got, "bounds_extract")
	assert.Equal(t, map[string]any{"width": float64(3), "height": float64(2)}, got["size_full"])
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.dat.gz")
	require.NoError(t, os.WriteFile(path, gzipped(t, compositeBytes()), 0o644))

	f, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, validity, f.Header.ValidityTime)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, f.Data)

	_, err = DecodeFile(filepath.Join(dir, "missing.dat"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
