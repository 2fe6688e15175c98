package geo

import (
	"fmt"
	"math"

	"github.com/OCAP2/mapsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

const (
	// MaxMercatorLat is the latitude at which Web Mercator tiles end.
	MaxMercatorLat = 85.05112878

	// worldSize3857 is the width of the Web Mercator plane in metres.
	worldSize3857 = 2 * math.Pi * 6378137

	// tileSize is the pixel width of a single tile at zoom 0.
	tileSize = 256
)

// Bounds is the minimal axis-aligned box enclosing a set of coordinates.
// The zero value is empty.
type Bounds struct {
	env geom.Envelope
}

// BoundsOf returns the bounds enclosing every point.
func BoundsOf(points ...core.LatLng) (Bounds, error) {
	var b Bounds
	for i, p := range points {
		next, err := b.Extend(p)
		if err != nil {
			return Bounds{}, fmt.Errorf("point %d: %w", i, err)
		}
		b = next
	}
	return b, nil
}

// Extend returns bounds grown to include p. A non-finite p is rejected and
// b is returned unchanged.
func (b Bounds) Extend(p core.LatLng) (Bounds, error) {
	env, err := b.env.ExtendToIncludeXY(geom.XY{X: p.Lng, Y: p.Lat})
	if err != nil {
		return b, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return Bounds{env: env}, nil
}

// IsEmpty reports whether no point was added yet.
func (b Bounds) IsEmpty() bool {
	return b.env.IsEmpty()
}

// SouthWest returns the lower-left corner.
func (b Bounds) SouthWest() (core.LatLng, bool) {
	min, _, ok := b.env.MinMaxXYs()
	if !ok {
		return core.LatLng{}, false
	}
	return core.LatLng{Lat: min.Y, Lng: min.X}, true
}

// NorthEast returns the upper-right corner.
func (b Bounds) NorthEast() (core.LatLng, bool) {
	_, max, ok := b.env.MinMaxXYs()
	if !ok {
		return core.LatLng{}, false
	}
	return core.LatLng{Lat: max.Y, Lng: max.X}, true
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (core.LatLng, bool) {
	min, max, ok := b.env.MinMaxXYs()
	if !ok {
		return core.LatLng{}, false
	}
	return core.LatLng{Lat: (min.Y + max.Y) / 2, Lng: (min.X + max.X) / 2}, true
}

// Contains reports whether p lies inside or on the edge of the bounds.
func (b Bounds) Contains(p core.LatLng) bool {
	return b.env.Contains(geom.XY{X: p.Lng, Y: p.Lat})
}

// FitZoom returns the largest integer zoom at which the bounds fit into a
// viewport of width x height pixels. Degenerate bounds fit at maxZoom.
func FitZoom(b Bounds, width, height int, minZoom, maxZoom float64) float64 {
	sw, ok := b.SouthWest()
	if !ok || width <= 0 || height <= 0 {
		return minZoom
	}
	ne, _ := b.NorthEast()

	lo := Coords3857From4326(sw)
	hi := Coords3857From4326(ne)
	dx := math.Abs(hi.X - lo.X)
	dy := math.Abs(hi.Y - lo.Y)

	zoom := maxZoom
	if dx > 0 {
		zoom = math.Min(zoom, math.Log2(float64(width)*worldSize3857/(tileSize*dx)))
	}
	if dy > 0 {
		zoom = math.Min(zoom, math.Log2(float64(height)*worldSize3857/(tileSize*dy)))
	}
	zoom = math.Floor(zoom)
	return math.Max(minZoom, math.Min(maxZoom, zoom))
}
