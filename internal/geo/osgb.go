package geo

import "math"

type ellipsoid struct {
	a, b float64
}

func (e ellipsoid) e2() float64 {
	return 1 - (e.b*e.b)/(e.a*e.a)
}

var (
	airy1830 = ellipsoid{a: 6377563.396, b: 6356256.909}
	wgs84    = ellipsoid{a: 6378137.000, b: 6356752.3142}
)

// Ordnance Survey national grid projection constants.
const (
	osgbF0   = 0.9996012717
	osgbLat0 = 49 * math.Pi / 180
	osgbLon0 = -2 * math.Pi / 180
	osgbN0   = -100000.0
	osgbE0   = 400000.0
)

// helmert holds a seven-parameter datum shift. Translations are in
// metres, scale in ppm, rotations in arc seconds.
type helmert struct {
	tx, ty, tz float64
	s          float64
	rx, ry, rz float64
}

var wgs84ToOSGB36 = helmert{
	tx: -446.448, ty: 125.157, tz: -542.060,
	s:  20.4894,
	rx: -0.1502, ry: -0.2470, rz: -0.8421,
}

func (h helmert) inverse() helmert {
	return helmert{-h.tx, -h.ty, -h.tz, -h.s, -h.rx, -h.ry, -h.rz}
}

func (h helmert) apply(x, y, z float64) (float64, float64, float64) {
	const arcsec = math.Pi / (180 * 3600)
	s1 := 1 + h.s*1e-6
	rx, ry, rz := h.rx*arcsec, h.ry*arcsec, h.rz*arcsec
	return h.tx + s1*x - rz*y + ry*z,
		h.ty + rz*x + s1*y - rx*z,
		h.tz - ry*x + rx*y + s1*z
}

// NationalGrid converts WGS84 positions to and from OSGB36 British
// National Grid references. Accuracy is a few metres.
type NationalGrid struct{}

var _ Transform = NationalGrid{}

// ToGrid projects a WGS84 position onto the national grid.
func (NationalGrid) ToGrid(p LatLon) GridRef {
	lat, lon := rad(p.Latitude), rad(p.Longitude)
	x, y, z := toCartesian(wgs84, lat, lon)
	x, y, z = wgs84ToOSGB36.apply(x, y, z)
	lat, lon = fromCartesian(airy1830, x, y, z)
	n, e := project(lat, lon)
	return GridRef{Northing: n, Easting: e}
}

// ToLatLon converts a national-grid reference back to WGS84.
func (NationalGrid) ToLatLon(g GridRef) LatLon {
	lat, lon := unproject(g.Northing, g.Easting)
	x, y, z := toCartesian(airy1830, lat, lon)
	x, y, z = wgs84ToOSGB36.inverse().apply(x, y, z)
	lat, lon = fromCartesian(wgs84, x, y, z)
	return LatLon{Latitude: deg(lat), Longitude: deg(lon)}
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func toCartesian(e ellipsoid, lat, lon float64) (x, y, z float64) {
	e2 := e.e2()
	sinLat := math.Sin(lat)
	nu := e.a / math.Sqrt(1-e2*sinLat*sinLat)
	x = nu * math.Cos(lat) * math.Cos(lon)
	y = nu * math.Cos(lat) * math.Sin(lon)
	z = (1 - e2) * nu * sinLat
	return x, y, z
}

func fromCartesian(e ellipsoid, x, y, z float64) (lat, lon float64) {
	e2 := e.e2()
	p := math.Hypot(x, y)
	lat = math.Atan2(z, p*(1-e2))
	for range 10 {
		sinLat := math.Sin(lat)
		nu := e.a / math.Sqrt(1-e2*sinLat*sinLat)
		next := math.Atan2(z+e2*nu*sinLat, p)
		if math.Abs(next-lat) < 1e-12 {
			lat = next
			break
		}
		lat = next
	}
	return lat, math.Atan2(y, x)
}

// meridionalArc is the developed meridian distance from the true origin.
func meridionalArc(lat float64) float64 {
	a, b := airy1830.a, airy1830.b
	n := (a - b) / (a + b)
	n2, n3 := n*n, n*n*n
	dLat, sLat := lat-osgbLat0, lat+osgbLat0
	return b * osgbF0 * ((1+n+1.25*n2+1.25*n3)*dLat -
		(3*n+3*n2+21.0/8*n3)*math.Sin(dLat)*math.Cos(sLat) +
		(15.0/8*n2+15.0/8*n3)*math.Sin(2*dLat)*math.Cos(2*sLat) -
		(35.0/24*n3)*math.Sin(3*dLat)*math.Cos(3*sLat))
}

func radii(lat float64) (nu, rho, eta2 float64) {
	a, e2 := airy1830.a, airy1830.e2()
	sin2 := math.Sin(lat) * math.Sin(lat)
	nu = a * osgbF0 / math.Sqrt(1-e2*sin2)
	rho = a * osgbF0 * (1 - e2) / math.Pow(1-e2*sin2, 1.5)
	return nu, rho, nu/rho - 1
}

func project(lat, lon float64) (northing, easting float64) {
	nu, rho, eta2 := radii(lat)
	sinLat, cosLat, tanLat := math.Sin(lat), math.Cos(lat), math.Tan(lat)
	cos3, cos5 := cosLat*cosLat*cosLat, math.Pow(cosLat, 5)
	tan2, tan4 := tanLat*tanLat, math.Pow(tanLat, 4)

	i := meridionalArc(lat) + osgbN0
	ii := nu / 2 * sinLat * cosLat
	iii := nu / 24 * sinLat * cos3 * (5 - tan2 + 9*eta2)
	iiia := nu / 720 * sinLat * cos5 * (61 - 58*tan2 + tan4)
	iv := nu * cosLat
	v := nu / 6 * cos3 * (nu/rho - tan2)
	vi := nu / 120 * cos5 * (5 - 18*tan2 + tan4 + 14*eta2 - 58*tan2*eta2)

	dl := lon - osgbLon0
	northing = i + ii*dl*dl + iii*math.Pow(dl, 4) + iiia*math.Pow(dl, 6)
	easting = osgbE0 + iv*dl + v*math.Pow(dl, 3) + vi*math.Pow(dl, 5)
	return northing, easting
}

func unproject(northing, easting float64) (lat, lon float64) {
	a := airy1830.a
	lat = (northing-osgbN0)/(a*osgbF0) + osgbLat0
	for m := meridionalArc(lat); math.Abs(northing-osgbN0-m) >= 1e-5; m = meridionalArc(lat) {
		lat += (northing - osgbN0 - m) / (a * osgbF0)
	}

	nu, rho, eta2 := radii(lat)
	tanLat := math.Tan(lat)
	secLat := 1 / math.Cos(lat)
	tan2, tan4, tan6 := tanLat*tanLat, math.Pow(tanLat, 4), math.Pow(tanLat, 6)
	nu3, nu5, nu7 := math.Pow(nu, 3), math.Pow(nu, 5), math.Pow(nu, 7)

	vii := tanLat / (2 * rho * nu)
	viii := tanLat / (24 * rho * nu3) * (5 + 3*tan2 + eta2 - 9*tan2*eta2)
	ix := tanLat / (720 * rho * nu5) * (61 + 90*tan2 + 45*tan4)
	x := secLat / nu
	xi := secLat / (6 * nu3) * (nu/rho + 2*tan2)
	xii := secLat / (120 * nu5) * (5 + 28*tan2 + 24*tan4)
	xiia := secLat / (5040 * nu7) * (61 + 662*tan2 + 1320*tan4 + 720*tan6)

	de := easting - osgbE0
	lat = lat - vii*de*de + viii*math.Pow(de, 4) - ix*math.Pow(de, 6)
	lon = osgbLon0 + x*de - xi*math.Pow(de, 3) + xii*math.Pow(de, 5) - xiia*math.Pow(de, 7)
	return lat, lon
}
