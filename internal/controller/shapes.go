package controller

import (
	"math"
	"strconv"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

// DefaultMarkerLocation is where a marker created without a location sits.
var DefaultMarkerLocation = core.LatLng{Lat: 0.0033446, Lng: 76.3497818}

// DefaultCircleRadius is the radius in meters of a circle created with none.
const DefaultCircleRadius = 1000.0

const (
	minThickness = 1
	maxThickness = 10
	epsilon      = 1e-9
)

func sameFloat(a, b float64) bool { return math.Abs(a-b) < epsilon }

// shape is what the map needs from every handle.
type shape interface {
	base() *handle
	// payload is the add command for the shape.
	payload() any
	// complete is false while the canvas cannot draw the shape.
	complete() bool
	// moveTo applies a drag reported by the canvas.
	moveTo(anchor core.LatLng)
}

// handle is the state every shape shares. id is zero once deleted.
type handle struct {
	m         *Map
	id        int
	kind      core.Kind
	visible   bool
	draggable bool
	self      shape
}

func (h *handle) base() *handle { return h }

func (h *handle) wireID() string { return strconv.Itoa(h.id) }

// ID returns the shape id, or 0 once the shape is deleted.
func (h *handle) ID() int {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.id
}

// Kind returns the shape kind.
func (h *handle) Kind() core.Kind { return h.kind }

// Visible reports whether the shape is shown.
func (h *handle) Visible() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.visible
}

// SetVisible hides or shows the shape.
func (h *handle) SetVisible(visible bool) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.id == 0 || visible == h.visible {
		return
	}
	h.visible = visible
	op := opHide
	if visible {
		op = opShow
	}
	h.m.trigger(command{op: op, id: h.id, kind: h.kind})
	h.m.persist(h.self)
}

// Draggable reports whether the user may drag the shape.
func (h *handle) Draggable() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.draggable
}

// SetDraggable toggles dragging.
func (h *handle) SetDraggable(draggable bool) {
	h.update(func() bool {
		if draggable == h.draggable {
			return false
		}
		h.draggable = draggable
		return true
	})
}

// Delete removes the shape from the map for good.
func (h *handle) Delete() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.id == 0 {
		return
	}
	h.m.trigger(command{op: opRemove, id: h.id, kind: h.kind})
	h.m.forget(h.self)
}

// Deleted reports whether Delete or a clear removed the shape.
func (h *handle) Deleted() bool {
	return h.ID() == 0
}

// update runs fn under the map lock and re-sends the shape if fn reports a
// change. Deleted shapes ignore updates.
func (h *handle) update(fn func() bool) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.id == 0 || !fn() {
		return
	}
	h.m.changed(h.self)
}

// line is the outline style shared by polylines, polygons and circles.
type line struct {
	color     string
	opacity   float64
	thickness int
}

func defaultLine() line {
	return line{color: core.DefaultStroke.Color, opacity: core.DefaultStroke.Opacity, thickness: core.DefaultStroke.Weight}
}

func (l line) stroke() core.Stroke {
	return core.Stroke{Color: l.color, Opacity: l.opacity, Weight: l.thickness}
}

func (l *line) setColor(c string) bool {
	c, ok := NormalizeColor(c)
	if !ok || c == l.color {
		return false
	}
	l.color = c
	return true
}

func (l *line) setOpacity(o float64) bool {
	if o < 0 || o > 1 || sameFloat(o, l.opacity) {
		return false
	}
	l.opacity = o
	return true
}

func (l *line) setThickness(t int) bool {
	if t < minThickness || t > maxThickness || t == l.thickness {
		return false
	}
	l.thickness = t
	return true
}

// fill is the interior style shared by polygons and circles. An empty color
// leaves the provider default.
type fill struct {
	color   string
	opacity float64
}

func defaultFill() fill {
	return fill{opacity: core.DefaultFill.Opacity}
}

func (f fill) fill() core.Fill {
	return core.Fill{Color: f.color, Opacity: f.opacity}
}

func (f *fill) setColor(c string) bool {
	c, ok := NormalizeColor(c)
	if !ok || c == f.color {
		return false
	}
	f.color = c
	return true
}

func (f *fill) setOpacity(o float64) bool {
	if o < 0 || o > 1 || sameFloat(o, f.opacity) {
		return false
	}
	f.opacity = o
	return true
}

// Marker is a point shape with a title and an icon.
type Marker struct {
	*handle
	location core.LatLng
	title    string
	iconURL  string
}

func (mk *Marker) complete() bool { return true }

func (mk *Marker) payload() any {
	return protocol.AddMarker{
		ID:        mk.wireID(),
		Lat:       mk.location.Lat,
		Lng:       mk.location.Lng,
		Draggable: mk.draggable,
		Title:     mk.title,
		IconURL:   mk.iconURL,
	}
}

func (mk *Marker) moveTo(at core.LatLng) { mk.location = at }

// Location returns the marker position.
func (mk *Marker) Location() core.LatLng {
	mk.m.mu.Lock()
	defer mk.m.mu.Unlock()
	return mk.location
}

// SetLocation moves the marker.
func (mk *Marker) SetLocation(at core.LatLng) {
	mk.update(func() bool {
		if geo.Equal(at, mk.location) {
			return false
		}
		mk.location = at
		return true
	})
}

// Title returns the marker tooltip.
func (mk *Marker) Title() string {
	mk.m.mu.Lock()
	defer mk.m.mu.Unlock()
	return mk.title
}

// SetTitle changes the marker tooltip.
func (mk *Marker) SetTitle(title string) {
	mk.update(func() bool {
		if title == mk.title {
			return false
		}
		mk.title = title
		return true
	})
}

// IconURL returns the marker icon.
func (mk *Marker) IconURL() string {
	mk.m.mu.Lock()
	defer mk.m.mu.Unlock()
	return mk.iconURL
}

// SetIconURL changes the marker icon; see NormalizeIconURL. Invalid values
// are ignored.
func (mk *Marker) SetIconURL(u string) {
	mk.update(func() bool {
		u, ok := NormalizeIconURL(u)
		if !ok || u == mk.iconURL {
			return false
		}
		mk.iconURL = u
		return true
	})
}

// Polyline is an open path.
type Polyline struct {
	*handle
	points []core.LatLng
	line   line
}

func (p *Polyline) complete() bool { return len(p.points) >= 2 }

func (p *Polyline) payload() any {
	return protocol.AddPolyline{
		ID:        p.wireID(),
		Points:    clonePoints(p.points),
		Draggable: p.draggable,
		Stroke:    p.line.stroke(),
	}
}

// moveTo translates the whole path so its first vertex lands on anchor.
func (p *Polyline) moveTo(anchor core.LatLng) {
	p.points = geo.Translate(p.points, anchor)
}

// Points returns a copy of the path.
func (p *Polyline) Points() []core.LatLng {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return clonePoints(p.points)
}

// AddPoints appends vertices.
func (p *Polyline) AddPoints(points ...core.LatLng) {
	p.update(func() bool {
		if len(points) == 0 {
			return false
		}
		p.points = append(p.points, points...)
		return true
	})
}

// RemovePoints drops the first vertex equal to each of points.
func (p *Polyline) RemovePoints(points ...core.LatLng) {
	p.update(func() bool {
		if len(points) == 0 {
			return false
		}
		for _, pt := range points {
			for i, have := range p.points {
				if geo.Equal(have, pt) {
					p.points = append(p.points[:i], p.points[i+1:]...)
					break
				}
			}
		}
		return true
	})
}

// RemoveAllPoints empties the path.
func (p *Polyline) RemoveAllPoints() {
	p.update(func() bool {
		if len(p.points) == 0 {
			return false
		}
		p.points = nil
		return true
	})
}

// LineColor returns the outline color.
func (p *Polyline) LineColor() string {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.line.color
}

// SetLineColor changes the outline color; see NormalizeColor.
func (p *Polyline) SetLineColor(c string) { p.update(func() bool { return p.line.setColor(c) }) }

// LineOpacity returns the outline opacity.
func (p *Polyline) LineOpacity() float64 {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.line.opacity
}

// SetLineOpacity changes the outline opacity. Values outside [0,1] are ignored.
func (p *Polyline) SetLineOpacity(o float64) { p.update(func() bool { return p.line.setOpacity(o) }) }

// LineThickness returns the outline width in pixels.
func (p *Polyline) LineThickness() int {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.line.thickness
}

// SetLineThickness changes the outline width. Values outside [1,10] are ignored.
func (p *Polyline) SetLineThickness(t int) { p.update(func() bool { return p.line.setThickness(t) }) }

// Polygon is a closed, filled path.
type Polygon struct {
	Polyline
	fill fill
}

func (p *Polygon) payload() any {
	return protocol.AddPolygon{
		ID:        p.wireID(),
		Points:    clonePoints(p.points),
		Draggable: p.draggable,
		Stroke:    p.line.stroke(),
		Fill:      p.fill.fill(),
	}
}

// FillColor returns the fill color, empty for the provider default.
func (p *Polygon) FillColor() string {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.fill.color
}

// SetFillColor changes the fill color; see NormalizeColor.
func (p *Polygon) SetFillColor(c string) { p.update(func() bool { return p.fill.setColor(c) }) }

// FillOpacity returns the fill opacity.
func (p *Polygon) FillOpacity() float64 {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.fill.opacity
}

// SetFillOpacity changes the fill opacity. Values outside [0,1] are ignored.
func (p *Polygon) SetFillOpacity(o float64) { p.update(func() bool { return p.fill.setOpacity(o) }) }

// Circle is a disc of a radius in meters around a center.
type Circle struct {
	*handle
	center core.LatLng
	radius float64
	line   line
	fill   fill
}

func (c *Circle) complete() bool { return true }

func (c *Circle) payload() any {
	return protocol.AddCircle{
		ID:        c.wireID(),
		Lat:       c.center.Lat,
		Lng:       c.center.Lng,
		Radius:    c.radius,
		Draggable: c.draggable,
		Stroke:    c.line.stroke(),
		Fill:      c.fill.fill(),
	}
}

func (c *Circle) moveTo(at core.LatLng) { c.center = at }

// Center returns the circle center.
func (c *Circle) Center() core.LatLng {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.center
}

// SetCenter moves the circle.
func (c *Circle) SetCenter(at core.LatLng) {
	c.update(func() bool {
		if geo.Equal(at, c.center) {
			return false
		}
		c.center = at
		return true
	})
}

// Radius returns the radius in meters.
func (c *Circle) Radius() float64 {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.radius
}

// SetRadius changes the radius. Negative values are ignored.
func (c *Circle) SetRadius(r float64) {
	c.update(func() bool {
		if r < 0 || sameFloat(r, c.radius) {
			return false
		}
		c.radius = r
		return true
	})
}

// LineColor returns the outline color.
func (c *Circle) LineColor() string {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.line.color
}

// SetLineColor changes the outline color; see NormalizeColor.
func (c *Circle) SetLineColor(v string) { c.update(func() bool { return c.line.setColor(v) }) }

// SetLineOpacity changes the outline opacity. Values outside [0,1] are ignored.
func (c *Circle) SetLineOpacity(o float64) { c.update(func() bool { return c.line.setOpacity(o) }) }

// SetLineThickness changes the outline width. Values outside [1,10] are ignored.
func (c *Circle) SetLineThickness(t int) { c.update(func() bool { return c.line.setThickness(t) }) }

// FillColor returns the fill color, empty for the provider default.
func (c *Circle) FillColor() string {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.fill.color
}

// SetFillColor changes the fill color; see NormalizeColor.
func (c *Circle) SetFillColor(v string) { c.update(func() bool { return c.fill.setColor(v) }) }

// SetFillOpacity changes the fill opacity. Values outside [0,1] are ignored.
func (c *Circle) SetFillOpacity(o float64) { c.update(func() bool { return c.fill.setOpacity(o) }) }

func clonePoints(points []core.LatLng) []core.LatLng {
	if points == nil {
		return nil
	}
	out := make([]core.LatLng, len(points))
	copy(out, points)
	return out
}
