// pkg/core/shape.go
package core

// MarkerOptions carries the full state of a point marker.
type MarkerOptions struct {
	Position  LatLng `json:"position"`
	Draggable bool   `json:"draggable"`
	Title     string `json:"title,omitempty"`
	IconURL   string `json:"iconUrl,omitempty"`
}

// PolygonOptions carries the full state of a closed, filled path.
type PolygonOptions struct {
	Path      []LatLng `json:"path"`
	Draggable bool     `json:"draggable"`
	Stroke    Stroke   `json:"stroke"`
	Fill      Fill     `json:"fill"`
}

// PolylineOptions carries the full state of an open path.
type PolylineOptions struct {
	Path      []LatLng `json:"path"`
	Draggable bool     `json:"draggable"`
	Stroke    Stroke   `json:"stroke"`
}

// CircleOptions carries the full state of a circle. Radius is in metres.
type CircleOptions struct {
	Center    LatLng  `json:"center"`
	Radius    float64 `json:"radius"`
	Draggable bool    `json:"draggable"`
	Stroke    Stroke  `json:"stroke"`
	Fill      Fill    `json:"fill"`
}

// Anchor returns the point reported when a path is dragged: its first vertex.
func (o PolygonOptions) Anchor() (LatLng, bool) {
	return anchor(o.Path)
}

// Anchor returns the point reported when a path is dragged: its first vertex.
func (o PolylineOptions) Anchor() (LatLng, bool) {
	return anchor(o.Path)
}

func anchor(path []LatLng) (LatLng, bool) {
	if len(path) == 0 {
		return LatLng{}, false
	}
	return path[0], true
}
