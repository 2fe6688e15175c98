// pkg/core/geometry.go
package core

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stroke styles the outline of a polygon, polyline or circle.
type Stroke struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
	Weight  int     `json:"weight"`
}

// Fill styles the interior of a polygon or circle.
// An empty Color leaves the provider default in place.
type Fill struct {
	Color   string  `json:"color,omitempty"`
	Opacity float64 `json:"opacity"`
}

// DefaultStroke matches the line style shapes get when the controller sets none.
var DefaultStroke = Stroke{Color: "#000000", Opacity: 0.8, Weight: 2}

// DefaultFill matches the fill style shapes get when the controller sets none.
var DefaultFill = Fill{Opacity: 0.35}
