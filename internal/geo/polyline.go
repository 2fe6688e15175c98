package geo

import (
	"fmt"

	"github.com/OCAP2/mapsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// LineString converts a path into a geom.LineString with X as longitude.
func LineString(path []core.LatLng) (geom.LineString, error) {
	if len(path) < 2 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 points, got %d", len(path))
	}
	ls, err := geom.NewLineString(sequence(path, false))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("polyline: %w", err)
	}
	return ls, nil
}

// Polygon converts a path into a single-ring geom.Polygon, closing the ring
// when the path does not end on its first vertex.
func Polygon(path []core.LatLng) (geom.Polygon, error) {
	if len(path) < 3 {
		return geom.Polygon{}, fmt.Errorf("polygon must have at least 3 points, got %d", len(path))
	}
	ring, err := geom.NewLineString(sequence(path, true))
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("polygon ring: %w", err)
	}
	poly, err := geom.NewPolygon([]geom.LineString{ring})
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("polygon: %w", err)
	}
	return poly, nil
}

// Translate shifts every vertex of path by the offset that moves its first
// vertex onto anchor. The input is not modified.
func Translate(path []core.LatLng, anchor core.LatLng) []core.LatLng {
	if len(path) == 0 {
		return nil
	}
	dLat := anchor.Lat - path[0].Lat
	dLng := anchor.Lng - path[0].Lng
	out := make([]core.LatLng, len(path))
	for i, p := range path {
		out[i] = core.LatLng{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
	}
	return out
}

func sequence(path []core.LatLng, closed bool) geom.Sequence {
	flat := make([]float64, 0, (len(path)+1)*2)
	for _, p := range path {
		flat = append(flat, p.Lng, p.Lat)
	}
	if closed && path[0] != path[len(path)-1] {
		flat = append(flat, path[0].Lng, path[0].Lat)
	}
	return geom.NewSequence(flat, geom.DimXY)
}
