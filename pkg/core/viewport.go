// pkg/core/viewport.go
package core

// MapType is the base layer shown by the provider.
type MapType string

const (
	MapTypeRoadmap   MapType = "roadmap"
	MapTypeSatellite MapType = "satellite"
	MapTypeHybrid    MapType = "hybrid"
	MapTypeTerrain   MapType = "terrain"
)

// Valid reports whether t is one of the known base layers.
func (t MapType) Valid() bool {
	switch t {
	case MapTypeRoadmap, MapTypeSatellite, MapTypeHybrid, MapTypeTerrain:
		return true
	}
	return false
}

// ViewportOptions are the UI toggles and zoom limits of the map.
// Zero MinZoom/MaxZoom mean "no limit".
type ViewportOptions struct {
	ShowDefaultControls   bool    `json:"showDefaultControls" mapstructure:"showDefaultControls"`
	ShowMapTypeControl    bool    `json:"showMapTypeControl" mapstructure:"showMapTypeControl"`
	ShowStreetViewControl bool    `json:"showStreetViewControl" mapstructure:"showStreetViewControl"`
	DisableZoom           bool    `json:"disableZoom" mapstructure:"disableZoom"`
	MinZoom               float64 `json:"minZoom" mapstructure:"minZoom"`
	MaxZoom               float64 `json:"maxZoom" mapstructure:"maxZoom"`
	Tilt                  bool    `json:"tilt" mapstructure:"tilt"`
}

// DefaultViewportOptions shows every control and allows auto-tilt.
func DefaultViewportOptions() ViewportOptions {
	return ViewportOptions{
		ShowDefaultControls:   true,
		ShowMapTypeControl:    true,
		ShowStreetViewControl: true,
		Tilt:                  true,
	}
}

// Viewport is the observable camera state of a map.
type Viewport struct {
	Center       LatLng          `json:"center"`
	Zoom         float64         `json:"zoom"`
	MapType      MapType         `json:"mapType"`
	FitToMarkers bool            `json:"fitToMarkers"`
	Options      ViewportOptions `json:"options"`
}
