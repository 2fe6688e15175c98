// Package provider describes the capabilities the synchronization layer
// needs from a mapping provider. Implementations wrap a concrete map
// engine; the package itself carries no behaviour.
package provider

import (
	"context"
	"encoding/json"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/pkg/core"
)

// Provider event names.
const (
	EventClick          = "click"
	EventDragEnd        = "dragend"
	EventCenterChanged  = "center_changed"
	EventZoomChanged    = "zoom_changed"
	EventMapTypeChanged = "maptypeid_changed"
)

// Listener is invoked by the provider when an event fires. Providers may
// call it from any goroutine.
type Listener func()

// Registration removes a listener.
type Registration interface {
	Remove()
}

// Container is the host element the map is drawn into.
type Container interface {
	ID() string
	Size() (width, height int)
}

// MapOptions is the full option set of a map object. A new map has no
// center until one is set explicitly.
type MapOptions struct {
	Zoom                   float64         `json:"zoom"`
	MapType                core.MapType    `json:"mapTypeId"`
	Tilt                   int             `json:"tilt"`
	DisableDefaultUI       bool            `json:"disableDefaultUI"`
	MapTypeControl         bool            `json:"mapTypeControl"`
	StreetViewControl      bool            `json:"streetViewControl"`
	DisableDoubleClickZoom bool            `json:"disableDoubleClickZoom"`
	Scrollwheel            bool            `json:"scrollwheel"`
	MinZoom                float64         `json:"minZoom,omitempty"`
	MaxZoom                float64         `json:"maxZoom,omitempty"`
	Styles                 json.RawMessage `json:"styles,omitempty"`
	GestureHandling        string          `json:"gestureHandling"`
	Draggable              bool            `json:"draggable"`
}

// Loader is implemented by providers whose API arrives asynchronously.
// Load blocks until the API is usable.
type Loader interface {
	Load(ctx context.Context) error
}

// Provider constructs maps and overlays.
type Provider interface {
	NewMap(c Container, opts MapOptions) (Map, error)
	NewMarker(opts core.MarkerOptions) Marker
	NewPolygon(opts core.PolygonOptions) Polygon
	NewPolyline(opts core.PolylineOptions) Polyline
	NewCircle(opts core.CircleOptions) Circle
}

// Map is a live map object.
type Map interface {
	// Center reports the current center; false when the map has none yet.
	Center() (core.LatLng, bool)
	SetCenter(p core.LatLng)
	PanTo(p core.LatLng)
	Zoom() float64
	SetZoom(z float64)
	MapType() core.MapType
	SetMapType(t core.MapType)
	SetOptions(opts MapOptions)
	FitBounds(b geo.Bounds)
	// Resize makes the provider recompute its layout.
	Resize()
	LoadKML(url string) error
	AddListener(event string, fn Listener) Registration
}

// Overlay is the part every shape handle shares.
type Overlay interface {
	// SetMap attaches the overlay to m, or detaches it when m is nil.
	SetMap(m Map)
	Map() Map
	AddListener(event string, fn Listener) Registration
	// Destroy releases the handle and its listeners. The overlay must be
	// detached first.
	Destroy()
}

// Marker is a point marker handle.
type Marker interface {
	Overlay
	SetOptions(opts core.MarkerOptions)
	Position() core.LatLng
}

// Polygon is a closed path handle.
type Polygon interface {
	Overlay
	SetOptions(opts core.PolygonOptions)
	Path() []core.LatLng
}

// Polyline is an open path handle.
type Polyline interface {
	Overlay
	SetOptions(opts core.PolylineOptions)
	Path() []core.LatLng
}

// Circle is a circle handle.
type Circle interface {
	Overlay
	SetOptions(opts core.CircleOptions)
	Center() core.LatLng
}
