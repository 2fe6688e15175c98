package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/OCAP2/mapsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// COORDINATES
// The controller speaks WGS84 degrees (EPSG:4326). Comparisons happen on
// provider-corrected values: latitude clamped to [-90, 90] and longitude
// wrapped into [-180, 180]. Zoom math is done in Web Mercator (EPSG:3857).

// ErrInvalidCoordinates is returned when a coordinate is not a finite number
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// equalityTolerance is the distance in degrees under which two corrected
// coordinates are considered the same point.
const equalityTolerance = 1e-9

// Correct clamps the latitude and wraps the longitude the way the map
// provider does when it builds a coordinate.
func Correct(p core.LatLng) core.LatLng {
	return core.LatLng{
		Lat: math.Max(-90, math.Min(90, p.Lat)),
		Lng: wrap(p.Lng, -180, 180),
	}
}

// wrap maps x into [min, max]. Values already in range come back untouched.
func wrap(x, min, max float64) float64 {
	if min <= x && x <= max {
		return x
	}
	span := max - min
	return math.Mod(math.Mod(x-min, span)+span, span) + min
}

// Equal compares two coordinates after correction.
func Equal(a, b core.LatLng) bool {
	a, b = Correct(a), Correct(b)
	return math.Abs(a.Lat-b.Lat) <= equalityTolerance &&
		math.Abs(a.Lng-b.Lng) <= equalityTolerance
}

// Validate rejects NaN and infinite coordinates.
func Validate(p core.LatLng) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return ErrInvalidCoordinates
	}
	return nil
}

// Point creates a 2D point with X as longitude and Y as latitude.
func Point(p core.LatLng) (geom.Point, error) {
	pt, err := geom.XY{X: p.Lng, Y: p.Lat}.AsPoint()
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return pt, nil
}

// Coords3857From4326 projects a WGS84 coordinate onto Web Mercator metres.
func Coords3857From4326(p core.LatLng) geom.XY {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	// Mercator is undefined at the poles; keep to the provider's tile limit.
	lat := math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, p.Lat))
	x, y, _ := f(p.Lng, lat, 0)
	return geom.XY{X: x, Y: y}
}
