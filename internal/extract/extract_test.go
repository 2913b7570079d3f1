package extract

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/nimrod"
	"github.com/lox/nimrodsync/internal/nimrod/nimrodtest"
)

// planar treats latitude as northing and longitude as easting.
type planar struct{}

func (planar) ToGrid(p geo.LatLon) geo.GridRef {
	return geo.GridRef{Northing: p.Latitude, Easting: p.Longitude}
}

func (planar) ToLatLon(g geo.GridRef) geo.LatLon {
	return geo.LatLon{Latitude: g.Northing, Longitude: g.Easting}
}

// testFrame is a 4x5 grid spanning northing 0..400, easting 0..500, with
// cell (row, col) holding row*10+col.
func testFrame(t *testing.T) *nimrod.Frame {
	t.Helper()
	f := nimrodtest.New(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), 4, 5, 400, 0, 0, 500)
	for row := range 4 {
		for col := range 5 {
			f.Raw[row*5+col] = int64((row*10 + col) * nimrod.Scale)
		}
	}
	frame, err := nimrod.Decode(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)
	return frame
}

func newExtractor() *Extractor {
	return New(planar{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractWithoutBoxReturnsFrame(t *testing.T) {
	frame := testFrame(t)
	area, err := newExtractor().Extract(frame, nil)
	require.NoError(t, err)

	assert.False(t, area.Cropped())
	assert.Equal(t, frame.Data, area.Data)
	assert.Equal(t, geo.Size{Width: 5, Height: 4}, area.Full)
	assert.Equal(t, area.Full, area.Size)
}

func TestExtractFullBoundsIsIdentity(t *testing.T) {
	frame := testFrame(t)
	box := &geo.Box{
		TopLeft:     geo.LatLon{Latitude: 400, Longitude: 0},
		BottomRight: geo.LatLon{Latitude: 0, Longitude: 500},
	}
	area, err := newExtractor().Extract(frame, box)
	require.NoError(t, err)

	assert.True(t, area.Cropped())
	assert.Equal(t, frame.Data, area.Data)
	assert.Equal(t, area.Full, area.Size)
}

func TestExtractSubArea(t *testing.T) {
	frame := testFrame(t)
	box := &geo.Box{
		TopLeft:     geo.LatLon{Latitude: 300, Longitude: 100},
		BottomRight: geo.LatLon{Latitude: 100, Longitude: 400},
	}
	area, err := newExtractor().Extract(frame, box)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{11, 12, 13}, {21, 22, 23}}, area.Data)
	assert.Equal(t, geo.Size{Width: 3, Height: 2}, area.Size)
	assert.Equal(t, geo.Window{StartX: 1, StartY: 1, EndX: 4, EndY: 3}, area.Window)
}

func TestExtractInvertedCorners(t *testing.T) {
	frame := testFrame(t)
	box := &geo.Box{
		TopLeft:     geo.LatLon{Latitude: 100, Longitude: 400},
		BottomRight: geo.LatLon{Latitude: 300, Longitude: 100},
	}
	area, err := newExtractor().Extract(frame, box)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{11, 12, 13}, {21, 22, 23}}, area.Data)
}

func TestExtractOutsidePayloadUsesMissing(t *testing.T) {
	frame := testFrame(t)
	box := &geo.Box{
		TopLeft:     geo.LatLon{Latitude: 500, Longitude: 400},
		BottomRight: geo.LatLon{Latitude: 300, Longitude: 600},
	}
	area, err := newExtractor().Extract(frame, box)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{
		{Missing, Missing},
		{4, Missing},
	}, area.Data)
}

func TestExtractEmpty(t *testing.T) {
	frame := testFrame(t)
	box := &geo.Box{
		TopLeft:     geo.LatLon{Latitude: 250, Longitude: 100},
		BottomRight: geo.LatLon{Latitude: 230, Longitude: 400},
	}
	_, err := newExtractor().Extract(frame, box)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestExtractNationalGrid(t *testing.T) {
	tr := geo.NationalGrid{}
	f := nimrodtest.New(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), 10, 10, 200000, 500000, 100000, 600000)
	for i := range f.Raw {
		f.Raw[i] = int64(i * nimrod.Scale)
	}
	frame, err := nimrod.Decode(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)

	// cell centres of (row 2, col 3) and (row 4, col 6)
	box := &geo.Box{
		TopLeft:     tr.ToLatLon(geo.GridRef{Northing: 175000, Easting: 535000}),
		BottomRight: tr.ToLatLon(geo.GridRef{Northing: 155000, Easting: 565000}),
	}
	area, err := New(tr, nil).Extract(frame, box)
	require.NoError(t, err)
	assert.Equal(t, geo.Window{StartX: 3, StartY: 2, EndX: 6, EndY: 4}, area.Window)
	assert.Equal(t, [][]float64{{23, 24, 25}, {33, 34, 35}}, area.Data)
}

func TestExtractFullBoundsIsIdentityNationalGrid(t *testing.T) {
	tr := geo.NationalGrid{}
	f := nimrodtest.New(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), 10, 10, 200000, 500000, 100000, 600000)
	for i := range f.Raw {
		f.Raw[i] = int64(i * nimrod.Scale)
	}
	frame, err := nimrod.Decode(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)

	box := &geo.Box{
		TopLeft:     tr.ToLatLon(geo.GridRef{Northing: 200000, Easting: 500000}),
		BottomRight: tr.ToLatLon(geo.GridRef{Northing: 100000, Easting: 600000}),
	}
	area, err := New(tr, slog.New(slog.NewTextHandler(io.Discard, nil))).Extract(frame, box)
	require.NoError(t, err)
	assert.Equal(t, geo.Window{EndX: 10, EndY: 10}, area.Window)
	assert.Equal(t, frame.Data, area.Data)
	assert.Equal(t, area.Full, area.Size)
}
