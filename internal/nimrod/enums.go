package nimrod

import (
	"fmt"
	"strings"
)

func lookup(table map[int]string, code int) string {
	if s, ok := table[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", code)
}

// DataType is the payload element type.
type DataType int

const (
	DataReal    DataType = 0
	DataInteger DataType = 1
	DataByte    DataType = 2
)

var dataTypes = map[int]string{0: "real", 1: "integer", 2: "byte"}

func (d DataType) String() string               { return lookup(dataTypes, int(d)) }
func (d DataType) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// HorizontalGrid identifies the horizontal grid projection.
type HorizontalGrid int

var horizontalGrids = map[int]string{
	0: "NG",
	1: "lat/lon",
	2: "space view",
	3: "polar stereographic",
	4: "UTM32 (EuroPP)",
	5: "Rotated Lat Lon",
	6: "other",
}

func (g HorizontalGrid) String() string               { return lookup(horizontalGrids, int(g)) }
func (g HorizontalGrid) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// VerticalCoord identifies a vertical coordinate type. It is used for both
// the field's level and the reference level.
type VerticalCoord int

var verticalCoords = map[int]string{
	0:  "height above orography",
	1:  "height above sea level",
	2:  "pressure",
	3:  "sigma",
	4:  "eta",
	5:  "radar beam number",
	6:  "temperature",
	7:  "potential temperature",
	8:  "equivalent potential temperature",
	9:  "wet bulb potential temperature",
	10: "potential vorticity",
	11: "cloud boundary",
	12: "levels below ground",
}

func (v VerticalCoord) String() string               { return lookup(verticalCoords, int(v)) }
func (v VerticalCoord) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// OriginLocation is the grid corner holding the first element.
type OriginLocation int

var originLocations = map[int]string{
	0: "top left",
	1: "bottom left",
	2: "top right",
	3: "bottom right",
}

func (o OriginLocation) String() string               { return lookup(originLocations, int(o)) }
func (o OriginLocation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Projection is the biaxial ellipsoid used by the grid.
type Projection int

var projections = map[int]string{
	0: "Airy 1830 (NG)",
	1: "International 1924 (modified UTM-32)",
	2: "GRS80 (GUGiK 1992/19)",
}

func (p Projection) String() string               { return lookup(projections, int(p)) }
func (p Projection) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Model is the originating model or product.
type Model int

var models = map[int]string{
	1:  "nowcast",
	2:  "radar",
	11: "UKV",
	12: "UK4",
	13: "NAE",
	14: "Global",
	15: "MOGREPS-EU",
	16: "MOGREPS-UK",
	17: "UK4-extended",
	18: "4km Italy UM",
}

func (m Model) String() string               { return lookup(models, int(m)) }
func (m Model) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Averaging is a set of processing flags.
type Averaging int

var averagingFlags = []struct {
	bit  int
	name string
}{
	{1, "warm bias applied"},
	{2, "cold bias applied"},
	{4, "smoothed"},
	{8, "only observations used"},
	{16, "averaged over multiple surface types"},
	{32, "scaled to UM resolution"},
	{128, "accumulation or average"},
	{256, "extrapolation"},
	{512, "time-lagged"},
	{4096, "minimum in period"},
	{8192, "maximum in period"},
}

// Flags lists the names of every set flag in ascending bit order.
func (a Averaging) Flags() []string {
	var out []string
	for _, f := range averagingFlags {
		if int(a)&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

func (a Averaging) String() string {
	if a <= 0 {
		return "none"
	}
	return strings.Join(a.Flags(), ", ")
}

func (a Averaging) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Calibration is the radar calibration type. Negative codes mean the
// corresponding calibration was removed.
type Calibration int

var calibrations = map[int]string{
	0: "uncalibrated",
	1: "frontal",
	2: "showers",
	3: "rain shadow",
	4: "bright band",
}

func (c Calibration) String() string {
	if c < 0 {
		if s, ok := calibrations[int(-c)]; ok {
			return s + " (removed)"
		}
	}
	return lookup(calibrations, int(c))
}

func (c Calibration) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// PeriodUnit is the unit of the period of interest.
type PeriodUnit string

const (
	PeriodMinutes PeriodUnit = "minutes"
	PeriodSeconds PeriodUnit = "seconds"
)
