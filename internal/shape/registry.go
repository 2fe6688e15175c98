package shape

import (
	"errors"
	"fmt"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
)

var (
	// ErrKindMismatch is returned when an upsert targets an id that holds a
	// shape of another kind. Nothing is changed.
	ErrKindMismatch = errors.New("shape kind mismatch")
	// ErrNotReady is returned when the registry has no live map yet.
	ErrNotReady = errors.New("map is not ready")
	// ErrUnknownFilter is returned by Clear for a filter naming no kind.
	ErrUnknownFilter = errors.New("unknown shape filter")
	// ErrEmptyID is returned when an upsert carries no id.
	ErrEmptyID = errors.New("shape id is empty")
	// ErrPathTooShort is returned for a polygon or polyline with fewer than
	// MinPathLen vertices.
	ErrPathTooShort = errors.New("path is too short")
)

// MinPathLen is the fewest vertices a polygon or polyline is drawn with.
const MinPathLen = 2

// FilterAll makes Clear remove every shape.
const FilterAll = "*"

// Observer receives user interaction with registered shapes.
type Observer interface {
	MarkerClicked(id string)
	Positioned(kind core.Kind, id string, at core.LatLng)
}

// Scheduler runs fn on the goroutine that owns the registry. Provider
// listeners may fire anywhere; they reach the observer only through it.
type Scheduler func(fn func())

// Option configures a Registry.
type Option func(*Registry)

// WithObserver sets the receiver of click and drag notifications.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithScheduler sets how provider callbacks are deferred.
func WithScheduler(s Scheduler) Option {
	return func(r *Registry) {
		r.schedule = s
	}
}

// WithMarkerHook sets a function called after every change to the set of
// visible markers: marker upserts, show, remove and clear.
func WithMarkerHook(fn func()) Option {
	return func(r *Registry) {
		r.markersChanged = fn
	}
}

// Registry is the id -> Shape store. It is not safe for concurrent use; the
// owner serialises all calls.
type Registry struct {
	provider provider.Provider
	m        provider.Map
	shapes   map[string]*Shape
	order    []string

	observer       Observer
	schedule       Scheduler
	markersChanged func()
}

// NewRegistry creates an empty registry that builds handles with p.
func NewRegistry(p provider.Provider, opts ...Option) *Registry {
	r := &Registry{
		provider:       p,
		shapes:         make(map[string]*Shape),
		schedule:       func(fn func()) { fn() },
		markersChanged: func() {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach gives the registry its live map. Until then every mutating
// operation fails with ErrNotReady.
func (r *Registry) Attach(m provider.Map) {
	r.m = m
}

// Ready reports whether a map is attached.
func (r *Registry) Ready() bool {
	return r.m != nil
}

// UpsertMarker creates or updates the marker id.
func (r *Registry) UpsertMarker(id string, opts core.MarkerOptions) error {
	if err := geo.Validate(opts.Position); err != nil {
		return fmt.Errorf("marker %q: %w", id, err)
	}
	return r.upsert(id, core.KindMarker,
		func(s *Shape) {
			s.marker = r.provider.NewMarker(opts)
			s.overlay = s.marker
		},
		func(s *Shape) {
			s.marker.SetOptions(opts)
		},
	)
}

// UpsertPolygon creates or updates the polygon id.
func (r *Registry) UpsertPolygon(id string, opts core.PolygonOptions) error {
	if err := validatePath(opts.Path); err != nil {
		return fmt.Errorf("polygon %q: %w", id, err)
	}
	return r.upsert(id, core.KindPolygon,
		func(s *Shape) {
			s.polygon = r.provider.NewPolygon(opts)
			s.overlay = s.polygon
		},
		func(s *Shape) {
			s.polygon.SetOptions(opts)
		},
	)
}

// UpsertPolyline creates or updates the polyline id.
func (r *Registry) UpsertPolyline(id string, opts core.PolylineOptions) error {
	if err := validatePath(opts.Path); err != nil {
		return fmt.Errorf("polyline %q: %w", id, err)
	}
	return r.upsert(id, core.KindPolyline,
		func(s *Shape) {
			s.polyline = r.provider.NewPolyline(opts)
			s.overlay = s.polyline
		},
		func(s *Shape) {
			s.polyline.SetOptions(opts)
		},
	)
}

// UpsertCircle creates or updates the circle id.
func (r *Registry) UpsertCircle(id string, opts core.CircleOptions) error {
	if err := geo.Validate(opts.Center); err != nil {
		return fmt.Errorf("circle %q: %w", id, err)
	}
	return r.upsert(id, core.KindCircle,
		func(s *Shape) {
			s.circle = r.provider.NewCircle(opts)
			s.overlay = s.circle
		},
		func(s *Shape) {
			s.circle.SetOptions(opts)
		},
	)
}

func validatePath(path []core.LatLng) error {
	if len(path) < MinPathLen {
		return fmt.Errorf("%w: %d vertices", ErrPathTooShort, len(path))
	}
	for _, p := range path {
		if err := geo.Validate(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) upsert(id string, kind core.Kind, create, update func(*Shape)) error {
	if r.m == nil {
		return ErrNotReady
	}
	if id == "" {
		return ErrEmptyID
	}

	s, ok := r.shapes[id]
	if ok {
		if s.kind != kind {
			return fmt.Errorf("%w: %q is a %s, not a %s", ErrKindMismatch, id, s.kind, kind)
		}
		update(s)
	} else {
		s = &Shape{id: id, kind: kind}
		create(s)
		r.listen(s)
		r.shapes[id] = s
		r.order = append(r.order, id)
	}
	s.attach(r.m)

	if kind == core.KindMarker {
		r.markersChanged()
	}
	return nil
}

// listen forwards clicks (markers only) and drag ends to the observer.
func (r *Registry) listen(s *Shape) {
	if r.observer == nil {
		return
	}
	id, kind := s.id, s.kind
	if kind == core.KindMarker {
		s.regs = append(s.regs, s.overlay.AddListener(provider.EventClick, func() {
			r.schedule(func() {
				if r.shapes[id] == s {
					r.observer.MarkerClicked(id)
				}
			})
		}))
	}
	s.regs = append(s.regs, s.overlay.AddListener(provider.EventDragEnd, func() {
		at, ok := s.Anchor()
		if !ok {
			return
		}
		r.schedule(func() {
			if r.shapes[id] == s {
				r.observer.Positioned(kind, id, at)
			}
		})
	}))
}

// Remove detaches, destroys and forgets the shape id. Unknown ids are ignored.
func (r *Registry) Remove(id string) error {
	if r.m == nil {
		return ErrNotReady
	}
	s, ok := r.shapes[id]
	if !ok {
		return nil
	}
	r.drop(s)
	if s.kind == core.KindMarker {
		r.markersChanged()
	}
	return nil
}

// Hide detaches the shape id from the map without forgetting it.
func (r *Registry) Hide(id string) error {
	if r.m == nil {
		return ErrNotReady
	}
	if s, ok := r.shapes[id]; ok {
		s.detach()
	}
	return nil
}

// Show re-attaches the shape id.
func (r *Registry) Show(id string) error {
	if r.m == nil {
		return ErrNotReady
	}
	s, ok := r.shapes[id]
	if !ok {
		return nil
	}
	s.attach(r.m)
	if s.kind == core.KindMarker {
		r.markersChanged()
	}
	return nil
}

// Clear removes every shape matching filter: a kind code ("m", "p", "l",
// "c"), a kind name, or FilterAll. Any other filter removes nothing and
// returns ErrUnknownFilter. It returns the number of shapes removed.
func (r *Registry) Clear(filter string) (int, error) {
	if r.m == nil {
		return 0, ErrNotReady
	}
	match, err := matcher(filter)
	if err != nil {
		return 0, err
	}

	var doomed []*Shape
	for _, id := range r.order {
		if s := r.shapes[id]; match(s.kind) {
			doomed = append(doomed, s)
		}
	}
	markers := false
	for _, s := range doomed {
		r.drop(s)
		markers = markers || s.kind == core.KindMarker
	}
	if markers {
		r.markersChanged()
	}
	return len(doomed), nil
}

func matcher(filter string) (func(core.Kind) bool, error) {
	if filter == FilterAll {
		return func(core.Kind) bool { return true }, nil
	}
	kind, ok := core.ParseKind(filter)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, filter)
	}
	return func(k core.Kind) bool { return k == kind }, nil
}

func (r *Registry) drop(s *Shape) {
	s.destroy()
	delete(r.shapes, s.id)
	for i, id := range r.order {
		if id == s.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Close destroys every handle and detaches the map. The registry can be
// attached again afterwards.
func (r *Registry) Close() {
	for _, id := range r.order {
		r.shapes[id].destroy()
	}
	r.shapes = make(map[string]*Shape)
	r.order = nil
	r.m = nil
}

// Get returns the shape id.
func (r *Registry) Get(id string) (*Shape, bool) {
	s, ok := r.shapes[id]
	return s, ok
}

// Len returns the number of registered shapes.
func (r *Registry) Len() int {
	return len(r.shapes)
}

// IDs returns the registered ids in insertion order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered shapes per kind.
func (r *Registry) Count() map[core.Kind]int {
	out := make(map[core.Kind]int, len(core.Kinds))
	for _, s := range r.shapes {
		out[s.kind]++
	}
	return out
}

// VisibleMarkers returns the current positions of the markers drawn on the
// live map, in insertion order.
func (r *Registry) VisibleMarkers() []core.LatLng {
	var out []core.LatLng
	for _, id := range r.order {
		s := r.shapes[id]
		if s.kind != core.KindMarker || !s.visible || r.m == nil || s.overlay.Map() == nil {
			continue
		}
		out = append(out, s.marker.Position())
	}
	return out
}
