package memory

import (
	"sync"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
)

// listeners is an event name -> callbacks table. Callbacks run outside the lock.
type listeners struct {
	mu     sync.Mutex
	nextID int
	byName map[string]map[int]provider.Listener
}

func newListeners() *listeners {
	return &listeners{byName: make(map[string]map[int]provider.Listener)}
}

// AddListener registers fn for event.
func (l *listeners) AddListener(event string, fn provider.Listener) provider.Registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	if l.byName[event] == nil {
		l.byName[event] = make(map[int]provider.Listener)
	}
	l.byName[event][id] = fn
	return registration{l: l, event: event, id: id}
}

// ListenerCount returns how many callbacks are registered for event.
func (l *listeners) ListenerCount(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byName[event])
}

func (l *listeners) fire(event string) {
	l.mu.Lock()
	fns := make([]provider.Listener, 0, len(l.byName[event]))
	for _, fn := range l.byName[event] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *listeners) clear() {
	l.mu.Lock()
	l.byName = make(map[string]map[int]provider.Listener)
	l.mu.Unlock()
}

type registration struct {
	l     *listeners
	event string
	id    int
}

func (r registration) Remove() {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	delete(r.l.byName[r.event], r.id)
}

// overlay holds the state every overlay type shares.
type overlay struct {
	*listeners

	owner     *Provider
	id        int
	kind      core.Kind
	mu        sync.Mutex
	m         provider.Map
	destroyed bool
}

func (o *overlay) base() *overlay { return o }

// SetMap attaches the overlay to m, or detaches it when m is nil.
func (o *overlay) SetMap(m provider.Map) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return
	}
	o.m = m
}

// Map returns the map the overlay is attached to, or nil.
func (o *overlay) Map() provider.Map {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m
}

// Destroy releases the handle.
func (o *overlay) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.m = nil
	o.mu.Unlock()
	o.listeners.clear()
	o.owner.unregister(o)
}

// Destroyed reports whether Destroy was called.
func (o *overlay) Destroyed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed
}

// Kind returns the shape kind of the overlay.
func (o *overlay) Kind() core.Kind { return o.kind }

// Marker is an in-memory provider.Marker.
type Marker struct {
	overlay
	opts core.MarkerOptions
}

// SetOptions replaces the marker state.
func (m *Marker) SetOptions(opts core.MarkerOptions) {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}

// Options returns the marker state.
func (m *Marker) Options() core.MarkerOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Position returns the marker position.
func (m *Marker) Position() core.LatLng {
	return m.Options().Position
}

// Click simulates a click on the marker.
func (m *Marker) Click() { m.fire(provider.EventClick) }

// DragTo simulates the user dropping the marker at p.
func (m *Marker) DragTo(p core.LatLng) {
	m.mu.Lock()
	m.opts.Position = p
	m.mu.Unlock()
	m.fire(provider.EventDragEnd)
}

// Polygon is an in-memory provider.Polygon.
type Polygon struct {
	overlay
	opts core.PolygonOptions
}

// SetOptions replaces the polygon state.
func (p *Polygon) SetOptions(opts core.PolygonOptions) {
	p.mu.Lock()
	p.opts = clonePolygon(opts)
	p.mu.Unlock()
}

// Options returns the polygon state.
func (p *Polygon) Options() core.PolygonOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clonePolygon(p.opts)
}

// Path returns the polygon vertices.
func (p *Polygon) Path() []core.LatLng {
	return p.Options().Path
}

// DragTo simulates the user dragging the polygon so its first vertex lands on anchor.
func (p *Polygon) DragTo(anchor core.LatLng) {
	p.mu.Lock()
	p.opts.Path = geo.Translate(p.opts.Path, anchor)
	p.mu.Unlock()
	p.fire(provider.EventDragEnd)
}

// Polyline is an in-memory provider.Polyline.
type Polyline struct {
	overlay
	opts core.PolylineOptions
}

// SetOptions replaces the polyline state.
func (p *Polyline) SetOptions(opts core.PolylineOptions) {
	p.mu.Lock()
	p.opts = clonePolyline(opts)
	p.mu.Unlock()
}

// Options returns the polyline state.
func (p *Polyline) Options() core.PolylineOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clonePolyline(p.opts)
}

// Path returns the polyline vertices.
func (p *Polyline) Path() []core.LatLng {
	return p.Options().Path
}

// DragTo simulates the user dragging the polyline so its first vertex lands on anchor.
func (p *Polyline) DragTo(anchor core.LatLng) {
	p.mu.Lock()
	p.opts.Path = geo.Translate(p.opts.Path, anchor)
	p.mu.Unlock()
	p.fire(provider.EventDragEnd)
}

// Circle is an in-memory provider.Circle.
type Circle struct {
	overlay
	opts core.CircleOptions
}

// SetOptions replaces the circle state.
func (c *Circle) SetOptions(opts core.CircleOptions) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Options returns the circle state.
func (c *Circle) Options() core.CircleOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Center returns the circle center.
func (c *Circle) Center() core.LatLng {
	return c.Options().Center
}

// DragTo simulates the user dropping the circle with its center at p.
func (c *Circle) DragTo(p core.LatLng) {
	c.mu.Lock()
	c.opts.Center = p
	c.mu.Unlock()
	c.fire(provider.EventDragEnd)
}

func clonePath(path []core.LatLng) []core.LatLng {
	if path == nil {
		return nil
	}
	out := make([]core.LatLng, len(path))
	copy(out, path)
	return out
}

func clonePolygon(o core.PolygonOptions) core.PolygonOptions {
	o.Path = clonePath(o.Path)
	return o
}

func clonePolyline(o core.PolylineOptions) core.PolylineOptions {
	o.Path = clonePath(o.Path)
	return o
}
