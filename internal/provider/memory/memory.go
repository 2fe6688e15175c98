// Package memory implements provider.Provider without a rendering engine.
// Maps and overlays keep their state in memory, record the calls made on
// them and expose hooks that simulate user interaction. It backs the
// headless canvas host and the tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
)

// DefaultMaxZoom is used for fitting when the map sets no zoom ceiling.
const DefaultMaxZoom = 21

// ErrEmptyKML is returned by LoadKML when no URL is given.
var ErrEmptyKML = errors.New("kml url is empty")

// Config tunes the simulated provider.
type Config struct {
	// LoadDelay is how long Load blocks before the API counts as loaded.
	LoadDelay time.Duration
	// ResizeDrift is added to the center on every Resize, the way real
	// providers sometimes shift the view when the container changes.
	ResizeDrift core.LatLng
}

// Container is a fixed-size host element.
type Container struct {
	Name          string
	Width, Height int
}

// ID returns the element id.
func (c Container) ID() string { return c.Name }

// Size returns the element size in pixels.
func (c Container) Size() (int, int) { return c.Width, c.Height }

// Provider is an in-memory provider.Provider.
type Provider struct {
	cfg Config

	mu       sync.Mutex
	maps     []*Map
	overlays []overlayHandle
	nextID   int
}

// overlayHandle is implemented by every overlay type for export and bookkeeping.
type overlayHandle interface {
	provider.Overlay
	base() *overlay
}

// New creates a memory provider.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Load waits for the configured delay or until ctx is done.
func (p *Provider) Load(ctx context.Context) error {
	if p.cfg.LoadDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.cfg.LoadDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewMap creates a map in the container.
func (p *Provider) NewMap(c provider.Container, opts provider.MapOptions) (provider.Map, error) {
	if c == nil {
		return nil, fmt.Errorf("map container is nil")
	}
	m := &Map{
		container: c,
		opts:      opts,
		zoom:      opts.Zoom,
		mapType:   opts.MapType,
		drift:     p.cfg.ResizeDrift,
		listeners: newListeners(),
	}
	if m.mapType == "" {
		m.mapType = core.MapTypeRoadmap
	}
	p.mu.Lock()
	p.maps = append(p.maps, m)
	p.mu.Unlock()
	return m, nil
}

// Maps returns every map created so far.
func (p *Provider) Maps() []*Map {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Map, len(p.maps))
	copy(out, p.maps)
	return out
}

// NewMarker creates a detached marker.
func (p *Provider) NewMarker(opts core.MarkerOptions) provider.Marker {
	m := &Marker{opts: opts}
	p.register(m, &m.overlay, core.KindMarker)
	return m
}

// NewPolygon creates a detached polygon.
func (p *Provider) NewPolygon(opts core.PolygonOptions) provider.Polygon {
	pg := &Polygon{opts: clonePolygon(opts)}
	p.register(pg, &pg.overlay, core.KindPolygon)
	return pg
}

// NewPolyline creates a detached polyline.
func (p *Provider) NewPolyline(opts core.PolylineOptions) provider.Polyline {
	pl := &Polyline{opts: clonePolyline(opts)}
	p.register(pl, &pl.overlay, core.KindPolyline)
	return pl
}

// NewCircle creates a detached circle.
func (p *Provider) NewCircle(opts core.CircleOptions) provider.Circle {
	c := &Circle{opts: opts}
	p.register(c, &c.overlay, core.KindCircle)
	return c
}

func (p *Provider) register(h overlayHandle, o *overlay, kind core.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	o.id = p.nextID
	o.kind = kind
	o.owner = p
	o.listeners = newListeners()
	p.overlays = append(p.overlays, h)
}

func (p *Provider) unregister(o *overlay) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.overlays {
		if h.base() == o {
			p.overlays = append(p.overlays[:i], p.overlays[i+1:]...)
			return
		}
	}
}

// Live returns the number of overlay handles that were created and not
// destroyed.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.overlays)
}

// Attached returns the overlays currently drawn on m.
func (p *Provider) Attached(m provider.Map) []provider.Overlay {
	p.mu.Lock()
	handles := make([]overlayHandle, len(p.overlays))
	copy(handles, p.overlays)
	p.mu.Unlock()

	var out []provider.Overlay
	for _, h := range handles {
		if h.Map() == m && m != nil {
			out = append(out, h)
		}
	}
	return out
}

// Map is an in-memory provider.Map.
type Map struct {
	*listeners

	mu        sync.Mutex
	container provider.Container
	opts      provider.MapOptions
	center    core.LatLng
	hasCenter bool
	zoom      float64
	mapType   core.MapType
	drift     core.LatLng
	kml       []string
	calls     []string
	fitted    []geo.Bounds
}

// Center returns the current center.
func (m *Map) Center() (core.LatLng, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center, m.hasCenter
}

// SetCenter jumps to p.
func (m *Map) SetCenter(p core.LatLng) {
	m.record("setCenter")
	m.moveTo(p)
}

// PanTo moves to p. The simulation does not animate.
func (m *Map) PanTo(p core.LatLng) {
	m.record("panTo")
	m.moveTo(p)
}

func (m *Map) moveTo(p core.LatLng) {
	p = geo.Correct(p)
	m.mu.Lock()
	changed := !m.hasCenter || !geo.Equal(m.center, p)
	m.center = p
	m.hasCenter = true
	m.mu.Unlock()
	if changed {
		m.fire(provider.EventCenterChanged)
	}
}

// Zoom returns the current zoom level.
func (m *Map) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// SetZoom changes the zoom, honouring the zoom limits.
func (m *Map) SetZoom(z float64) {
	m.record("setZoom")
	m.zoomTo(z)
}

func (m *Map) zoomTo(z float64) {
	m.mu.Lock()
	z = clampZoom(z, m.opts)
	changed := z != m.zoom
	m.zoom = z
	m.mu.Unlock()
	if changed {
		m.fire(provider.EventZoomChanged)
	}
}

func clampZoom(z float64, opts provider.MapOptions) float64 {
	if opts.MinZoom > 0 && z < opts.MinZoom {
		z = opts.MinZoom
	}
	if opts.MaxZoom > 0 && z > opts.MaxZoom {
		z = opts.MaxZoom
	}
	return z
}

// MapType returns the base layer.
func (m *Map) MapType() core.MapType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapType
}

// SetMapType switches the base layer.
func (m *Map) SetMapType(t core.MapType) {
	m.record("setMapType")
	m.switchType(t)
}

func (m *Map) switchType(t core.MapType) {
	m.mu.Lock()
	changed := t != m.mapType
	m.mapType = t
	m.mu.Unlock()
	if changed {
		m.fire(provider.EventMapTypeChanged)
	}
}

// SetOptions replaces the option set and re-applies the zoom limits.
func (m *Map) SetOptions(opts provider.MapOptions) {
	m.record("setOptions")
	m.mu.Lock()
	m.opts = opts
	z := m.zoom
	m.mu.Unlock()
	m.zoomTo(z)
}

// Options returns the current option set.
func (m *Map) Options() provider.MapOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// FitBounds centers on b and picks the largest zoom that shows all of it.
func (m *Map) FitBounds(b geo.Bounds) {
	m.record("fitBounds")
	center, ok := b.Center()
	if !ok {
		return
	}
	m.mu.Lock()
	m.fitted = append(m.fitted, b)
	w, h := m.container.Size()
	maxZoom := m.opts.MaxZoom
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}
	zoom := geo.FitZoom(b, w, h, m.opts.MinZoom, maxZoom)
	m.mu.Unlock()

	m.moveTo(center)
	m.zoomTo(zoom)
}

// Fitted returns the bounds passed to FitBounds, oldest first.
func (m *Map) Fitted() []geo.Bounds {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]geo.Bounds, len(m.fitted))
	copy(out, m.fitted)
	return out
}

// Resize recomputes the layout, shifting the center by the configured drift.
func (m *Map) Resize() {
	m.record("resize")
	m.mu.Lock()
	drift := m.drift
	center, has := m.center, m.hasCenter
	m.mu.Unlock()
	if has && drift != (core.LatLng{}) {
		m.moveTo(core.LatLng{Lat: center.Lat + drift.Lat, Lng: center.Lng + drift.Lng})
	}
}

// LoadKML adds a KML layer.
func (m *Map) LoadKML(url string) error {
	if url == "" {
		return ErrEmptyKML
	}
	m.record("loadKml")
	m.mu.Lock()
	m.kml = append(m.kml, url)
	m.mu.Unlock()
	return nil
}

// KML returns the loaded KML layers.
func (m *Map) KML() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.kml))
	copy(out, m.kml)
	return out
}

// Container returns the host element of the map.
func (m *Map) Container() provider.Container {
	return m.container
}

// Calls returns the names of the API calls made on the map, oldest first.
func (m *Map) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CountCalls returns how often the named call was made.
func (m *Map) CountCalls(name string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (m *Map) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

func (m *Map) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// UserPan simulates the user dragging the map to p.
func (m *Map) UserPan(p core.LatLng) { m.moveTo(p) }

// UserZoom simulates a scroll-wheel zoom.
func (m *Map) UserZoom(z float64) { m.zoomTo(z) }

// UserSetMapType simulates a map-type switch from the map's own controls.
func (m *Map) UserSetMapType(t core.MapType) { m.switchType(t) }
