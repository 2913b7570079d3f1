package geo

// Feature is a GeoJSON feature with a polygon geometry.
type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   Polygon        `json:"geometry"`
}

// Polygon is a GeoJSON polygon. Positions are [longitude, latitude].
type Polygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Outline converts grid corners to a closed lat/lon polygon, clockwise
// from the top-left corner.
func Outline(c Corners, t Transform, props map[string]any) FeatureCollection {
	ring := make([][2]float64, 0, 5)
	for _, g := range []GridRef{c.TopLeft, c.TopRight, c.BottomRight, c.BottomLeft, c.TopLeft} {
		p := t.ToLatLon(g)
		ring = append(ring, [2]float64{p.Longitude, p.Latitude})
	}
	if props == nil {
		props = map[string]any{}
	}
	return FeatureCollection{
		Type: "FeatureCollection",
		Features: []Feature{{
			Type:       "Feature",
			Properties: props,
			Geometry:   Polygon{Type: "Polygon", Coordinates: [][][2]float64{ring}},
		}},
	}
}
