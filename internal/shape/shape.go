// Package shape keeps the id-keyed set of overlays drawn on a map.
//
// A Shape is a tagged variant: Kind selects which of the typed provider
// handles is set. Every operation dispatches on Kind; handles are never
// type-asserted.
package shape

import (
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
)

// Shape is one registered overlay.
type Shape struct {
	id      string
	kind    core.Kind
	visible bool

	overlay  provider.Overlay
	marker   provider.Marker
	polygon  provider.Polygon
	polyline provider.Polyline
	circle   provider.Circle

	regs []provider.Registration
}

// ID returns the caller-assigned id.
func (s *Shape) ID() string { return s.id }

// Kind returns the variant tag.
func (s *Shape) Kind() core.Kind { return s.kind }

// Visible reports whether the shape is attached to the map.
func (s *Shape) Visible() bool { return s.visible }

// Overlay returns the provider handle.
func (s *Shape) Overlay() provider.Overlay { return s.overlay }

// Anchor returns the point reported when the shape is dragged: the marker
// position, the circle center, or the first vertex of a path.
func (s *Shape) Anchor() (core.LatLng, bool) {
	switch s.kind {
	case core.KindMarker:
		return s.marker.Position(), true
	case core.KindCircle:
		return s.circle.Center(), true
	case core.KindPolygon:
		return first(s.polygon.Path())
	case core.KindPolyline:
		return first(s.polyline.Path())
	}
	return core.LatLng{}, false
}

func first(path []core.LatLng) (core.LatLng, bool) {
	if len(path) == 0 {
		return core.LatLng{}, false
	}
	return path[0], true
}

func (s *Shape) attach(m provider.Map) {
	s.overlay.SetMap(m)
	s.visible = true
}

func (s *Shape) detach() {
	s.overlay.SetMap(nil)
	s.visible = false
}

// destroy detaches the handle, drops its listeners and releases it.
func (s *Shape) destroy() {
	s.detach()
	for _, r := range s.regs {
		r.Remove()
	}
	s.regs = nil
	s.overlay.Destroy()
}
