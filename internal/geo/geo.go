// Package geo holds the coordinate types shared by the decoder and the area
// extractor, and the mapping from national-grid references to array indices.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LatLon is a geodetic position in decimal degrees (WGS84).
type LatLon struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// ParseLatLon parses "lat,lon".
func ParseLatLon(s string) (LatLon, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return LatLon{}, fmt.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("parse latitude %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("parse longitude %q: %w", parts[1], err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return LatLon{}, fmt.Errorf("position %q out of range", s)
	}
	return LatLon{Latitude: lat, Longitude: lon}, nil
}

// GridRef is a national-grid reference in metres.
type GridRef struct {
	Northing float64 `json:"northing"`
	Easting  float64 `json:"easting"`
}

// Box is a caller-supplied crop rectangle. The corners are not guaranteed
// to be ordered relative to the grid.
type Box struct {
	TopLeft     LatLon `json:"top_left" yaml:"top_left"`
	BottomRight LatLon `json:"bottom_right" yaml:"bottom_right"`
}

// Corners are the four grid-reference corners of a full frame.
type Corners struct {
	TopLeft     GridRef `json:"top_left"`
	TopRight    GridRef `json:"top_right"`
	BottomRight GridRef `json:"bottom_right"`
	BottomLeft  GridRef `json:"bottom_left"`
}

// Bounds is an axis-aligned northing/easting rectangle.
type Bounds struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// Normalize returns b with Top >= Bottom and Right >= Left.
func (b Bounds) Normalize() Bounds {
	if b.Top < b.Bottom {
		b.Top, b.Bottom = b.Bottom, b.Top
	}
	if b.Right < b.Left {
		b.Left, b.Right = b.Right, b.Left
	}
	return b
}

// Corners expands b into its four corners.
func (b Bounds) Corners() Corners {
	return Corners{
		TopLeft:     GridRef{Northing: b.Top, Easting: b.Left},
		TopRight:    GridRef{Northing: b.Top, Easting: b.Right},
		BottomRight: GridRef{Northing: b.Bottom, Easting: b.Right},
		BottomLeft:  GridRef{Northing: b.Bottom, Easting: b.Left},
	}
}

// Size is the width (columns) and height (rows) of a grid.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Count is the number of cells in a grid of this size.
func (s Size) Count() int {
	return s.Width * s.Height
}

// Transform converts between geodetic positions and grid references.
type Transform interface {
	ToGrid(LatLon) GridRef
	ToLatLon(GridRef) LatLon
}

// ToArrayIndex maps a grid reference to a (column, row) index in an array
// of the given size spanning full. Results may fall outside the array.
func ToArrayIndex(full Bounds, size Size, p GridRef) (x, y int) {
	fx, fy := fractionalIndex(full, size, p)
	return int(math.Floor(fx)), int(math.Floor(fy))
}

// SnapTolerance is the distance in metres within which WindowFor treats a
// corner as lying on a cell edge. It matches the accuracy of the
// geodetic conversion.
const SnapTolerance = 1.0

func fractionalIndex(full Bounds, size Size, p GridRef) (fx, fy float64) {
	fx = (p.Easting - full.Left) / (full.Right - full.Left) * float64(size.Width)
	fy = (p.Northing - full.Top) / (full.Bottom - full.Top) * float64(size.Height)
	return fx, fy
}

// snapIndex floors f unless it lies within SnapTolerance metres of a cell
// edge, in which case that edge is used.
func snapIndex(f, cell float64) int {
	edge := math.Round(f)
	if math.Abs(f-edge)*cell < SnapTolerance {
		return int(edge)
	}
	return int(math.Floor(f))
}

// Window is a half-open index rectangle [StartX,EndX) x [StartY,EndY).
type Window struct {
	StartX, StartY int
	EndX, EndY     int
}

// WindowFor maps two arbitrary corners onto the array and orders the
// resulting indices so that Start <= End on both axes. Corners within
// SnapTolerance of a cell edge snap to it.
func WindowFor(full Bounds, size Size, a, b GridRef) Window {
	cellW := math.Abs(full.Right-full.Left) / float64(size.Width)
	cellH := math.Abs(full.Top-full.Bottom) / float64(size.Height)
	ax, ay := fractionalIndex(full, size, a)
	bx, by := fractionalIndex(full, size, b)
	x0, y0 := snapIndex(ax, cellW), snapIndex(ay, cellH)
	x1, y1 := snapIndex(bx, cellW), snapIndex(by, cellH)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Window{StartX: x0, StartY: y0, EndX: x1, EndY: y1}
}

// Size of the window.
func (w Window) Size() Size {
	return Size{Width: w.EndX - w.StartX, Height: w.EndY - w.StartY}
}
