// Package extract crops decoded frames to a geographic rectangle.
package extract

import (
	"errors"
	"log/slog"

	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/nimrod"
)

// Missing is recorded for cells that fall outside the payload.
const Missing = -1

// ErrEmpty is returned when the crop rectangle contains no rows.
var ErrEmpty = errors.New("extract: empty area")

// Area is a frame's payload, possibly cropped.
type Area struct {
	Data   [][]float64
	Full   geo.Size
	Size   geo.Size
	Window geo.Window
	// Box is nil when the frame was not cropped.
	Box *geo.Box
}

// Cropped reports whether the area is a sub-rectangle of the frame.
func (a *Area) Cropped() bool { return a.Box != nil }

// Extractor crops frames using a coordinate transform.
type Extractor struct {
	transform geo.Transform
	logger    *slog.Logger
}

// New returns an Extractor. A nil transform means geo.NationalGrid.
func New(transform geo.Transform, logger *slog.Logger) *Extractor {
	if transform == nil {
		transform = geo.NationalGrid{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{transform: transform, logger: logger}
}

// Extract crops frame to box. With a nil box the full payload is returned
// unchanged.
func (e *Extractor) Extract(frame *nimrod.Frame, box *geo.Box) (*Area, error) {
	full := frame.Header.Size()
	if box == nil {
		return &Area{
			Data:   frame.Data,
			Full:   full,
			Size:   full,
			Window: geo.Window{EndX: full.Width, EndY: full.Height},
		}, nil
	}

	w := geo.WindowFor(frame.Header.Bounds, full,
		e.transform.ToGrid(box.TopLeft),
		e.transform.ToGrid(box.BottomRight))
	if w.EndY <= w.StartY || w.EndX <= w.StartX {
		return nil, ErrEmpty
	}

	outside := 0
	data := make([][]float64, 0, w.EndY-w.StartY)
	for y := w.StartY; y < w.EndY; y++ {
		row := make([]float64, 0, w.EndX-w.StartX)
		for x := w.StartX; x < w.EndX; x++ {
			if y < 0 || y >= len(frame.Data) || x < 0 || x >= len(frame.Data[y]) {
				outside++
				row = append(row, Missing)
				continue
			}
			row = append(row, frame.Data[y][x])
		}
		data = append(data, row)
	}
	if outside > 0 {
		e.logger.Warn("crop area extends beyond payload",
			"cells", outside,
			"start_x", w.StartX, "start_y", w.StartY,
			"end_x", w.EndX, "end_y", w.EndY,
			"width", full.Width, "height", full.Height)
	}

	return &Area{
		Data:   data,
		Full:   full,
		Size:   w.Size(),
		Window: w,
		Box:    box,
	}, nil
}
