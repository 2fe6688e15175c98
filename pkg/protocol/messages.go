package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/mapsync/pkg/core"
)

// Command types sent by the controller. Each one is answered by exactly
// one TypeCommandDone.
const (
	TypeAddMarker       = "addMarker"
	TypeAddPolygon      = "addPolygon"
	TypeAddPolyline     = "addPolyline"
	TypeAddCircle       = "addCircle"
	TypeRemove          = "remove"
	TypeHide            = "hide"
	TypeShow            = "show"
	TypeClear           = "clear"
	TypeCommand         = "command"
	TypeSetCenter       = "setCenter"
	TypeSetZoom         = "setZoom"
	TypeSetMapType      = "setMapType"
	TypeSetOption       = "setOption"
	TypeSetFitToMarkers = "setFitToMarkers"
	TypeLoadKml         = "loadKml"
	TypeViewport        = "viewport"
)

// Notification types sent by the canvas. None of them is acknowledged.
const (
	TypeReady            = "ready"
	TypeCommandDone      = "commandDone"
	TypeMarkerClicked    = "markerClicked"
	TypeMarkerPositioned = "markerPositioned"
	TypePolyPositioned   = "polyPositioned"
	TypeCirclePositioned = "circlePositioned"
)

// Viewport command tokens carried by TypeCommand.
const (
	ViewCenter = "C"
	ViewResize = "R"
)

// Envelope wraps every message exchanged with the controller.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
// A nil payload is omitted.
func Marshal(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Unmarshal decodes a single envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Decode unmarshals the payload of env into v. An empty payload leaves v untouched.
func (env Envelope) Decode(v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// AddMarker is the payload of TypeAddMarker.
type AddMarker struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Draggable bool    `json:"draggable"`
	Title     string  `json:"title,omitempty"`
	IconURL   string  `json:"iconUrl,omitempty"`
}

// AddPolygon is the payload of TypeAddPolygon.
type AddPolygon struct {
	ID        string        `json:"id"`
	Points    []core.LatLng `json:"points"`
	Draggable bool          `json:"draggable"`
	Stroke    core.Stroke   `json:"stroke"`
	Fill      core.Fill     `json:"fill"`
}

// AddPolyline is the payload of TypeAddPolyline.
type AddPolyline struct {
	ID        string        `json:"id"`
	Points    []core.LatLng `json:"points"`
	Draggable bool          `json:"draggable"`
	Stroke    core.Stroke   `json:"stroke"`
}

// AddCircle is the payload of TypeAddCircle.
type AddCircle struct {
	ID        string      `json:"id"`
	Lat       float64     `json:"lat"`
	Lng       float64     `json:"lng"`
	Radius    float64     `json:"radius"`
	Draggable bool        `json:"draggable"`
	Stroke    core.Stroke `json:"stroke"`
	Fill      core.Fill   `json:"fill"`
}

// ShapeRef is the payload of TypeRemove, TypeHide and TypeShow.
type ShapeRef struct {
	ID string `json:"id"`
}

// Clear is the payload of TypeClear. Filter is a kind code ("m", "p", "l",
// "c"), a kind name, or "*" for every shape.
type Clear struct {
	Filter string `json:"filter"`
}

// Command is the payload of TypeCommand.
type Command struct {
	Command string `json:"command"`
}

// SetCenter is the payload of TypeSetCenter.
type SetCenter struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SetZoom is the payload of TypeSetZoom.
type SetZoom struct {
	Zoom float64 `json:"zoom"`
}

// SetMapType is the payload of TypeSetMapType.
type SetMapType struct {
	MapType core.MapType `json:"mapType"`
}

// SetOption is the payload of TypeSetOption. Value is a JSON bool for the
// toggles and a JSON number for minZoom/maxZoom.
type SetOption struct {
	Option string          `json:"option"`
	Value  json.RawMessage `json:"value"`
}

// SetFitToMarkers is the payload of TypeSetFitToMarkers.
type SetFitToMarkers struct {
	Enabled bool `json:"enabled"`
}

// LoadKml is the payload of TypeLoadKml.
type LoadKml struct {
	URL string `json:"url"`
}

// Ready is the payload of TypeReady.
type Ready struct {
	SessionID string `json:"sessionId"`
}

// MarkerClicked is the payload of TypeMarkerClicked.
type MarkerClicked struct {
	ID string `json:"id"`
}

// Positioned is the payload of TypeMarkerPositioned, TypePolyPositioned and
// TypeCirclePositioned.
type Positioned struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
