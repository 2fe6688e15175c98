// Package viewport keeps the camera state of a session (center, zoom,
// map type, options) consistent with the live map object and implements
// fit-to-markers.
package viewport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
)

var (
	// ErrNotReady is returned by operations that need a live map.
	ErrNotReady = errors.New("map is not ready")
	// ErrUnknownOption is returned by SetOption for an unrecognized name.
	ErrUnknownOption = errors.New("unknown viewport option")
	// ErrInvalidMapType is returned by SetMapType for an unknown layer.
	ErrInvalidMapType = errors.New("invalid map type")
)

// Option names accepted by SetOption.
const (
	OptShowDefaultControls   = "showDefaultControls"
	OptShowMapTypeControl    = "showMapTypeControl"
	OptShowStreetViewControl = "showStreetViewControl"
	OptDisableZoom           = "disableZoom"
	OptMinZoom               = "minZoom"
	OptMaxZoom               = "maxZoom"
	OptTilt                  = "tilt"
)

const (
	autoTilt        = 45
	gestureHandling = "greedy"
)

// MarkerSource returns the positions of the markers currently drawn on
// the map.
type MarkerSource func() []core.LatLng

// Scheduler runs fn on the goroutine that owns the synchronizer.
type Scheduler func(fn func())

// Synchronizer owns the viewport state of one session. Like the shape
// registry it is driven from a single goroutine.
type Synchronizer struct {
	m        provider.Map
	state    core.Viewport
	styles   json.RawMessage
	markers  MarkerSource
	schedule Scheduler
	regs     []provider.Registration
}

// New creates a synchronizer with the initial camera state. Until Bind is
// called the setters only record the desired state.
func New(initial core.Viewport, styles json.RawMessage, markers MarkerSource) *Synchronizer {
	if initial.MapType == "" {
		initial.MapType = core.MapTypeRoadmap
	}
	if markers == nil {
		markers = func() []core.LatLng { return nil }
	}
	return &Synchronizer{
		state:    initial,
		styles:   styles,
		markers:  markers,
		schedule: func(fn func()) { fn() },
	}
}

// SetScheduler changes how provider callbacks are deferred.
func (s *Synchronizer) SetScheduler(fn Scheduler) {
	s.schedule = fn
}

// MapOptions translates the current state into the provider option set.
func (s *Synchronizer) MapOptions() provider.MapOptions {
	return MapOptions(s.state, s.styles)
}

// MapOptions translates a viewport into provider options.
func MapOptions(v core.Viewport, styles json.RawMessage) provider.MapOptions {
	o := v.Options
	tilt := 0
	if o.Tilt {
		tilt = autoTilt
	}
	return provider.MapOptions{
		Zoom:                   v.Zoom,
		MapType:                v.MapType,
		Tilt:                   tilt,
		DisableDefaultUI:       !o.ShowDefaultControls,
		MapTypeControl:         o.ShowDefaultControls && o.ShowMapTypeControl,
		StreetViewControl:      o.ShowDefaultControls && o.ShowStreetViewControl,
		DisableDoubleClickZoom: o.DisableZoom,
		Scrollwheel:            !o.DisableZoom,
		MinZoom:                o.MinZoom,
		MaxZoom:                o.MaxZoom,
		Styles:                 styles,
		GestureHandling:        gestureHandling,
		Draggable:              true,
	}
}

// Bind attaches the live map: the center is synchronised and the passive
// listeners are installed.
func (s *Synchronizer) Bind(m provider.Map) {
	s.m = m
	s.applyCenter()
	s.listen()
}

// Bound reports whether a live map is attached.
func (s *Synchronizer) Bound() bool {
	return s.m != nil
}

// Unbind removes the passive listeners and forgets the map.
func (s *Synchronizer) Unbind() {
	for _, r := range s.regs {
		r.Remove()
	}
	s.regs = nil
	s.m = nil
}

// listen installs the center, zoom and map-type listeners. They only
// update local state; nothing is sent to the controller.
func (s *Synchronizer) listen() {
	m := s.m
	s.regs = append(s.regs,
		m.AddListener(provider.EventCenterChanged, func() {
			c, ok := m.Center()
			if !ok {
				return
			}
			s.schedule(func() { s.state.Center = c })
		}),
		m.AddListener(provider.EventZoomChanged, func() {
			z := m.Zoom()
			s.schedule(func() { s.state.Zoom = z })
		}),
		m.AddListener(provider.EventMapTypeChanged, func() {
			t := m.MapType()
			s.schedule(func() { s.state.MapType = t })
		}),
	)
}

// Snapshot returns the current camera state.
func (s *Synchronizer) Snapshot() core.Viewport {
	return s.state
}

// FitEnabled reports whether fit-to-markers mode is on.
func (s *Synchronizer) FitEnabled() bool {
	return s.state.FitToMarkers
}

// SetCenter records p as the desired center and moves the map there.
func (s *Synchronizer) SetCenter(p core.LatLng) error {
	if err := geo.Validate(p); err != nil {
		return err
	}
	s.state.Center = p
	s.applyCenter()
	return nil
}

// Recenter moves the map back to the recorded center.
func (s *Synchronizer) Recenter() error {
	if s.m == nil {
		return ErrNotReady
	}
	s.applyCenter()
	return nil
}

// applyCenter sets the center right away when the map has none, and pans
// only when the corrected coordinates differ from the map's own.
func (s *Synchronizer) applyCenter() {
	if s.m == nil {
		return
	}
	want := geo.Correct(s.state.Center)
	cur, ok := s.m.Center()
	if !ok {
		s.m.SetCenter(want)
		return
	}
	if !geo.Equal(geo.Correct(cur), want) {
		s.m.PanTo(want)
	}
}

// SetZoom records and applies a zoom level.
func (s *Synchronizer) SetZoom(z float64) error {
	s.state.Zoom = z
	if s.m != nil && s.m.Zoom() != z {
		s.m.SetZoom(z)
	}
	return nil
}

// SetMapType records and applies a base layer.
func (s *Synchronizer) SetMapType(t core.MapType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMapType, t)
	}
	s.state.MapType = t
	if s.m != nil {
		s.m.SetMapType(t)
	}
	return nil
}

// SetOption changes one viewport option. value is the JSON encoding of a
// bool, or of a number for the zoom limits.
func (s *Synchronizer) SetOption(name string, value json.RawMessage) error {
	o := &s.state.Options
	var err error
	switch name {
	case OptShowDefaultControls:
		err = decode(name, value, &o.ShowDefaultControls)
	case OptShowMapTypeControl:
		err = decode(name, value, &o.ShowMapTypeControl)
	case OptShowStreetViewControl:
		err = decode(name, value, &o.ShowStreetViewControl)
	case OptDisableZoom:
		err = decode(name, value, &o.DisableZoom)
	case OptMinZoom:
		err = decode(name, value, &o.MinZoom)
	case OptMaxZoom:
		err = decode(name, value, &o.MaxZoom)
	case OptTilt:
		err = decode(name, value, &o.Tilt)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if err != nil {
		return err
	}
	if s.m != nil {
		s.m.SetOptions(s.MapOptions())
	}
	return nil
}

func decode[T any](name string, value json.RawMessage, dst *T) error {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return fmt.Errorf("option %s: %w", name, err)
	}
	*dst = v
	return nil
}

// SetFitToMarkers switches fit mode; switching it on fits immediately.
func (s *Synchronizer) SetFitToMarkers(enabled bool) {
	s.state.FitToMarkers = enabled
	if enabled {
		s.FitToMarkers()
	}
}

// FitIfEnabled runs FitToMarkers when fit mode is on.
func (s *Synchronizer) FitIfEnabled() {
	if s.state.FitToMarkers {
		s.FitToMarkers()
	}
}

// FitToMarkers adjusts the camera to the visible markers. One marker is
// centered without touching the zoom; several are fitted by bounds.
func (s *Synchronizer) FitToMarkers() {
	if s.m == nil {
		return
	}
	points := s.markers()
	switch len(points) {
	case 0:
		return
	case 1:
		s.m.SetCenter(points[0])
	default:
		b, err := geo.BoundsOf(points...)
		if err != nil {
			return
		}
		s.m.FitBounds(b)
	}
}

// Resize recomputes the map layout, restores the center the map had before
// and refits when fit mode is on.
func (s *Synchronizer) Resize() error {
	if s.m == nil {
		return ErrNotReady
	}
	before, had := s.m.Center()
	s.m.Resize()
	if had {
		if after, ok := s.m.Center(); !ok || !geo.Equal(after, before) {
			s.m.SetCenter(before)
		}
	}
	s.FitIfEnabled()
	return nil
}

// LoadKML adds a KML layer to the map.
func (s *Synchronizer) LoadKML(url string) error {
	if s.m == nil {
		return ErrNotReady
	}
	return s.m.LoadKML(url)
}
