// Package nimrod decodes Met Office Nimrod radar composite files.
//
// A file is a single Fortran-style record pair: a 512 byte header framed by
// its length, then the payload framed by its length. Everything is
// big-endian.
package nimrod

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/lox/nimrodsync/internal/geo"
)

const (
	HeaderSize = 512

	genIntCount   = 31
	genRealCount  = 28
	specRealCount = 45
	specIntCount  = 51

	unitsLen  = 8
	sourceLen = 24
	titleLen  = 24

	// legacySentinel marks unset corner coordinates in files written
	// before corner positions were added to the header.
	legacySentinel = -32767

	// periodInSeconds in the period-of-interest slot means the real period
	// is stored in seconds in the radar-specific block.
	periodInSeconds = 32767
)

// Header is the decoded header block.
type Header struct {
	ValidityTime time.Time `json:"validity_time"`
	DataTime     time.Time `json:"data_time"`

	DataType         DataType       `json:"data_type"`
	DataWidth        int            `json:"data_width_bytes"`
	ExperimentNumber int            `json:"experiment_number"`
	Grid             HorizontalGrid `json:"horizontal_grid"`
	Rows             int            `json:"rows"`
	Cols             int            `json:"cols"`
	Release          int            `json:"header_release"`
	FieldCode        int            `json:"field_code"`
	Vertical         VerticalCoord  `json:"vertical_coordinate"`
	VerticalRef      VerticalCoord  `json:"vertical_reference"`
	RealsCount       int            `json:"specific_reals"`
	IntsCount        int            `json:"specific_ints"`
	Origin           OriginLocation `json:"origin"`
	MissingInt       int            `json:"missing_int"`
	Period           int            `json:"period_of_interest"`
	PeriodUnit       PeriodUnit     `json:"period_unit"`
	ModelLevels      int            `json:"model_levels"`
	Projection       Projection     `json:"projection"`
	EnsembleMember   int            `json:"ensemble_member"`
	Model            Model          `json:"model"`
	Averaging        Averaging      `json:"averaging"`

	VerticalValue        float64 `json:"vertical_value"`
	VerticalRefValue     float64 `json:"vertical_reference_value"`
	OriginNorthing       float64 `json:"origin_northing"`
	RowInterval          float64 `json:"row_interval"`
	OriginEasting        float64 `json:"origin_easting"`
	ColInterval          float64 `json:"col_interval"`
	MissingReal          float64 `json:"missing_real"`
	MKSScale             float64 `json:"mks_scale"`
	DataOffset           float64 `json:"data_offset"`
	GridOffsetX          float64 `json:"grid_offset_x"`
	GridOffsetY          float64 `json:"grid_offset_y"`
	TrueOriginNorthing   float64 `json:"true_origin_northing"`
	TrueOriginEasting    float64 `json:"true_origin_easting"`
	FalseEasting         float64 `json:"false_easting"`
	FalseNorthing        float64 `json:"false_northing"`
	CentralMeridianScale float64 `json:"central_meridian_scale"`
	Threshold            float64 `json:"threshold"`

	Units      string `json:"units"`
	DataSource string `json:"data_source"`
	Title      string `json:"title"`

	Corners geo.Corners `json:"corners"`
	Bounds  geo.Bounds  `json:"bounds"`

	// Legacy is set when Corners were derived from origin and spacing.
	Legacy bool `json:"legacy"`

	Radar RadarFields `json:"radar"`
}

// RadarFields are the mode-specific values of a radar composite.
type RadarFields struct {
	RadarNumber        int         `json:"radar_number"`
	Composite          bool        `json:"composite"`
	SiteFlags          [2]int      `json:"site_flags"`
	ClutterMap         int         `json:"clutter_map"`
	Calibration        Calibration `json:"calibration"`
	BrightBandHeight   int         `json:"bright_band_height"`
	BrightBandStrength int         `json:"bright_band_intensity"`
	BrightBandParams   [2]int      `json:"bright_band_params"`
	Infill             int         `json:"infill"`
	Cosmos             []int       `json:"cosmos"`
	SensorID           int         `json:"sensor_id"`
	MeteosatID         int         `json:"meteosat_id"`
	Availability       int         `json:"availability"`

	SatelliteCalibration float64 `json:"satellite_calibration"`
	SpaceCount           float64 `json:"space_count"`
	DuctingIndex         float64 `json:"ducting_index"`
	ElevationAngle       float64 `json:"elevation_angle"`
	NeighbourhoodKm      float64 `json:"neighbourhood_km"`
	RadiusKm             float64 `json:"radius_km"`
	FilterAlpha          float64 `json:"filter_alpha"`
	FuzzyThreshold       float64 `json:"fuzzy_threshold"`
	FuzzyDuration        float64 `json:"fuzzy_duration"`
}

// Size is the payload size with columns as width and rows as height.
func (h *Header) Size() geo.Size {
	return geo.Size{Width: h.Cols, Height: h.Rows}
}

type rawHeader struct {
	genInt   [genIntCount]int16
	genReal  [genRealCount]float32
	specReal [specRealCount]float32
	units    string
	source   string
	title    string
	specInt  [specIntCount]int16
}

func splitHeader(buf []byte) rawHeader {
	var raw rawHeader
	off := 0
	for i := range raw.genInt {
		raw.genInt[i] = int16(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	}
	for i := range raw.genReal {
		raw.genReal[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
		off += 4
	}
	for i := range raw.specReal {
		raw.specReal[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
		off += 4
	}
	raw.units = trimText(buf[off : off+unitsLen])
	off += unitsLen
	raw.source = trimText(buf[off : off+sourceLen])
	off += sourceLen
	raw.title = trimText(buf[off : off+titleLen])
	off += titleLen
	for i := range raw.specInt {
		raw.specInt[i] = int16(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	}
	return raw
}

func trimText(b []byte) string {
	return strings.TrimSpace(strings.Trim(string(b), "\x00"))
}

func parseHeader(buf []byte) (*Header, error) {
	raw := splitHeader(buf)
	a, g, s, b := raw.genInt, raw.genReal, raw.specReal, raw.specInt
	i := func(n int) int { return int(a[n]) }
	f := func(v float32) float64 { return float64(v) }

	h := &Header{
		ValidityTime: time.Date(i(0), time.Month(i(1)), i(2), i(3), i(4), i(5), 0, time.UTC),
		DataTime:     time.Date(i(6), time.Month(i(7)), i(8), i(9), i(10), 0, 0, time.UTC),

		DataType:         DataType(i(11)),
		DataWidth:        i(12),
		ExperimentNumber: i(13),
		Grid:             HorizontalGrid(i(14)),
		Rows:             i(15),
		Cols:             i(16),
		Release:          i(17),
		FieldCode:        i(18),
		Vertical:         VerticalCoord(i(19)),
		VerticalRef:      VerticalCoord(i(20)),
		RealsCount:       i(21),
		IntsCount:        i(22),
		Origin:           OriginLocation(i(23)),
		MissingInt:       i(24),
		Period:           i(25),
		PeriodUnit:       PeriodMinutes,
		ModelLevels:      i(26),
		Projection:       Projection(i(27)),
		EnsembleMember:   i(28),
		Model:            Model(i(29)),
		Averaging:        Averaging(uint16(a[30])),

		VerticalValue:        f(g[0]),
		VerticalRefValue:     f(g[1]),
		OriginNorthing:       f(g[2]),
		RowInterval:          f(g[3]),
		OriginEasting:        f(g[4]),
		ColInterval:          f(g[5]),
		MissingReal:          f(g[6]),
		MKSScale:             f(g[7]),
		DataOffset:           f(g[8]),
		GridOffsetX:          f(g[9]),
		GridOffsetY:          f(g[10]),
		TrueOriginNorthing:   f(g[11]),
		TrueOriginEasting:    f(g[12]),
		FalseEasting:         f(g[13]),
		FalseNorthing:        f(g[14]),
		CentralMeridianScale: f(g[15]),
		Threshold:            f(g[16]),

		Units:      raw.units,
		DataSource: raw.source,
		Title:      raw.title,
	}
	if h.Period == periodInSeconds {
		h.PeriodUnit = PeriodSeconds
		h.Period = int(b[50])
	}

	if h.DataType != DataInteger {
		return nil, &FormatError{Field: "data_type", Msg: "unsupported element type " + h.DataType.String()}
	}
	switch h.DataWidth {
	case 1, 2, 4, 8:
	default:
		return nil, formatErrorf("data_width", "unsupported element width %d", h.DataWidth)
	}
	if h.Rows <= 0 || h.Cols <= 0 {
		return nil, formatErrorf("dimensions", "invalid grid %dx%d", h.Rows, h.Cols)
	}

	h.Corners, h.Bounds, h.Legacy = gridBounds(h, s)

	h.Radar = RadarFields{
		RadarNumber:        int(b[0]),
		Composite:          b[0] == 0,
		SiteFlags:          [2]int{int(b[1]), int(b[2])},
		ClutterMap:         int(b[3]),
		Calibration:        Calibration(b[4]),
		BrightBandHeight:   int(b[5]),
		BrightBandStrength: int(b[6]),
		BrightBandParams:   [2]int{int(b[7]), int(b[8])},
		Infill:             int(b[9]),
		SensorID:           int(b[32]),
		MeteosatID:         int(b[33]),
		Availability:       int(b[34]),

		SatelliteCalibration: f(s[8]),
		SpaceCount:           f(s[9]),
		DuctingIndex:         f(s[10]),
		ElevationAngle:       f(s[11]),
		NeighbourhoodKm:      f(s[12]),
		RadiusKm:             f(s[13]),
		FilterAlpha:          f(s[14]),
		FuzzyThreshold:       f(s[15]),
		FuzzyDuration:        f(s[16]),
	}
	for _, v := range b[10:31] {
		h.Radar.Cosmos = append(h.Radar.Cosmos, int(v))
	}
	return h, nil
}

// gridBounds reads the corner block, falling back to origin and spacing
// when every corner holds the legacy sentinel.
func gridBounds(h *Header, s [specRealCount]float32) (geo.Corners, geo.Bounds, bool) {
	legacy := true
	for _, v := range s[:8] {
		if math.Floor(float64(v)) != legacySentinel {
			legacy = false
			break
		}
	}
	if legacy {
		b := geo.Bounds{
			Bottom: h.OriginNorthing,
			Right:  h.OriginEasting,
			Top:    h.OriginNorthing - h.RowInterval*float64(h.Rows),
			Left:   h.OriginEasting + h.ColInterval*float64(h.Cols),
		}.Normalize()
		return b.Corners(), b, true
	}

	c := geo.Corners{
		TopLeft:     geo.GridRef{Northing: float64(s[0]), Easting: float64(s[1])},
		TopRight:    geo.GridRef{Northing: float64(s[2]), Easting: float64(s[3])},
		BottomRight: geo.GridRef{Northing: float64(s[4]), Easting: float64(s[5])},
		BottomLeft:  geo.GridRef{Northing: float64(s[6]), Easting: float64(s[7])},
	}
	b := geo.Bounds{
		Top:    c.TopLeft.Northing,
		Left:   c.TopLeft.Easting,
		Bottom: c.BottomRight.Northing,
		Right:  c.BottomRight.Easting,
	}.Normalize()
	return c, b, false
}
