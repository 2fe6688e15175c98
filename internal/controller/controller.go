// Package controller is the server side of the canvas protocol. A Map owns
// shapes keyed by integer ids and keeps a connected canvas in sync with them,
// sending one command at a time and the next one on commandDone.
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/OCAP2/mapsync/internal/dispatcher"
	"github.com/OCAP2/mapsync/internal/queue"
	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

var (
	// ErrUnknownShape is returned for notifications about ids the map does not hold.
	ErrUnknownShape = errors.New("unknown shape")
	// ErrKindMismatch is returned when a notification names a shape of another kind.
	ErrKindMismatch = errors.New("shape kind mismatch")
)

// Sender delivers one command to the canvas.
type Sender interface {
	Send(msgType string, payload any) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msgType string, payload any) error

// Send calls f.
func (f SenderFunc) Send(msgType string, payload any) error { return f(msgType, payload) }

// Tap receives every notification after the map handled it, including
// notifications the map rejected.
type Tap interface {
	Dispatch(dispatcher.Event) (any, error)
}

type op uint8

const (
	opUpsert op = iota + 1
	opRemove
	opHide
	opShow
	opClear
	opView
)

// command is a queued request. Shape commands are rendered when sent so a
// burst of setter calls collapses into one upsert with the latest state.
type command struct {
	op      op
	id      int
	kind    core.Kind
	msgType string
	payload string
}

func sameCommand(a, b command) bool { return a == b }

// Option configures a Map.
type Option func(*Map)

// WithStore persists every shape change to s.
func WithStore(s storage.Backend) Option {
	return func(m *Map) { m.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Map) { m.log = l }
}

// WithTap forwards every notification to t.
func WithTap(t Tap) Option {
	return func(m *Map) { m.tap = t }
}

// Map is the controller-side model of one canvas.
type Map struct {
	mu       sync.Mutex
	sender   Sender
	ready    bool
	inFlight bool
	pending  *queue.Queue[command]
	session  string

	nextID    int
	shapes    map[int]shape
	markers   map[int]*Marker
	polylines map[int]*Polyline
	polygons  map[int]*Polygon
	circles   map[int]*Circle

	viewport    core.Viewport
	hasViewport bool

	store storage.Backend
	log   *slog.Logger
	d     *dispatcher.Dispatcher
	tap   Tap

	onReady              listenerSet[string]
	onMarkerClicked      listenerSet[*Marker]
	onMarkerPositioned   listenerSet[*Marker]
	onPolylinePositioned listenerSet[*Polyline]
	onPolygonPositioned  listenerSet[*Polygon]
	onCirclePositioned   listenerSet[*Circle]
}

// New creates an empty map. Commands queue until a canvas is attached and
// reports ready.
func New(opts ...Option) (*Map, error) {
	m := &Map{
		pending:   queue.New[command](),
		nextID:    1,
		shapes:    make(map[int]shape),
		markers:   make(map[int]*Marker),
		polylines: make(map[int]*Polyline),
		polygons:  make(map[int]*Polygon),
		circles:   make(map[int]*Circle),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "controller")

	d, err := dispatcher.New(m.log)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	m.d = d
	m.register()
	return m, nil
}

func (m *Map) register() {
	m.d.Register(protocol.TypeReady, m.handleReady)
	m.d.Register(protocol.TypeCommandDone, m.handleCommandDone)
	m.d.Register(protocol.TypeMarkerClicked, m.handleMarkerClicked)
	m.d.Register(protocol.TypeMarkerPositioned, m.handleMarkerPositioned)
	m.d.Register(protocol.TypePolyPositioned, m.handlePolyPositioned)
	m.d.Register(protocol.TypeCirclePositioned, m.handleCirclePositioned)
	m.d.Register(protocol.TypeViewport, m.handleViewport)
}

// Attach connects a canvas. Nothing is sent before it reports ready.
func (m *Map) Attach(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = s
	m.ready = false
	m.inFlight = false
}

// Detach disconnects the canvas. Queued commands are kept.
func (m *Map) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = nil
	m.ready = false
	m.inFlight = false
}

// Receive handles one notification from the canvas.
func (m *Map) Receive(env protocol.Envelope) error {
	e := dispatcher.FromEnvelope(env)
	_, err := m.d.Dispatch(e)
	if m.tap != nil {
		if _, terr := m.tap.Dispatch(e); terr != nil && !errors.Is(terr, dispatcher.ErrUnknownCommand) {
			m.log.Warn("tap failed", "type", e.Type, "error", terr)
		}
	}
	return err
}

// trigger queues c unless it repeats the last queued command. Callers hold mu.
func (m *Map) trigger(c command) {
	m.pending.PushUnlessLast(c, sameCommand)
	m.pump()
}

// triggerView queues a viewport command. Callers hold mu.
func (m *Map) triggerView(msgType string, payload any) {
	raw := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			m.log.Error("encoding command", "type", msgType, "error", err)
			return
		}
		raw = string(b)
	}
	m.trigger(command{op: opView, msgType: msgType, payload: raw})
}

// pump sends the next command when the canvas is idle. Callers hold mu.
func (m *Map) pump() {
	for m.ready && !m.inFlight && m.sender != nil {
		c, ok := m.pending.Shift()
		if !ok {
			return
		}
		msgType, payload, ok := m.render(c)
		if !ok {
			continue
		}
		if err := m.sender.Send(msgType, payload); err != nil {
			m.log.Error("sending command", "type", msgType, "error", err)
			return
		}
		m.inFlight = true
	}
}

// render turns c into a wire message, or false when there is nothing to send.
func (m *Map) render(c command) (string, any, bool) {
	switch c.op {
	case opUpsert, opShow:
		s, ok := m.shapes[c.id]
		if !ok || !s.base().visible || !s.complete() {
			return "", nil, false
		}
		return addType(c.kind), s.payload(), true
	case opHide:
		if _, ok := m.shapes[c.id]; !ok {
			return "", nil, false
		}
		return protocol.TypeHide, protocol.ShapeRef{ID: strconv.Itoa(c.id)}, true
	case opRemove:
		return protocol.TypeRemove, protocol.ShapeRef{ID: strconv.Itoa(c.id)}, true
	case opClear, opView:
		if c.payload == "" {
			return c.msgType, nil, true
		}
		return c.msgType, json.RawMessage(c.payload), true
	}
	return "", nil, false
}

func addType(k core.Kind) string {
	switch k {
	case core.KindMarker:
		return protocol.TypeAddMarker
	case core.KindPolygon:
		return protocol.TypeAddPolygon
	case core.KindPolyline:
		return protocol.TypeAddPolyline
	case core.KindCircle:
		return protocol.TypeAddCircle
	}
	return ""
}

func (m *Map) handleReady(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.Ready](e)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	resumed := m.session != "" && m.session == p.SessionID
	m.ready = true
	m.inFlight = false
	m.session = p.SessionID

	// The canvas gets the whole scene, so queued shape commands are
	// replaced by one upsert per visible shape. A resumed session may still
	// hold shapes deleted while it was away.
	var views []command
	for _, c := range m.pending.GetAndEmpty() {
		if c.op == opView {
			views = append(views, c)
		}
	}
	if resumed {
		raw, _ := json.Marshal(protocol.Clear{Filter: "*"})
		m.pending.Push(command{op: opClear, msgType: protocol.TypeClear, payload: string(raw)})
	}
	for _, id := range m.sortedIDs() {
		s := m.shapes[id]
		if s.base().visible {
			m.pending.Push(command{op: opUpsert, id: id, kind: s.base().kind})
		}
	}
	m.pending.Push(views...)
	m.pump()
	notify := m.onReady.bind(p.SessionID)
	m.mu.Unlock()

	m.log.Info("canvas ready", "session", p.SessionID, "resumed", resumed)
	if notify != nil {
		notify()
	}
	return nil, nil
}

func (m *Map) handleCommandDone(dispatcher.Event) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	m.pump()
	return nil, nil
}

func (m *Map) handleMarkerClicked(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.MarkerClicked](e)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	s, err := m.lookup(p.ID, core.KindMarker)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	notify := m.onMarkerClicked.bind(s.(*Marker))
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil, nil
}

func (m *Map) handleMarkerPositioned(e dispatcher.Event) (any, error) {
	return m.positioned(e, func(s shape) func() {
		return m.onMarkerPositioned.bind(s.(*Marker))
	}, core.KindMarker)
}

func (m *Map) handlePolyPositioned(e dispatcher.Event) (any, error) {
	return m.positioned(e, func(s shape) func() {
		switch s.base().Kind() {
		case core.KindPolygon:
			return m.onPolygonPositioned.bind(s.(*Polygon))
		case core.KindPolyline:
			return m.onPolylinePositioned.bind(s.(*Polyline))
		}
		return nil
	}, core.KindPolygon, core.KindPolyline)
}

func (m *Map) handleCirclePositioned(e dispatcher.Event) (any, error) {
	return m.positioned(e, func(s shape) func() {
		return m.onCirclePositioned.bind(s.(*Circle))
	}, core.KindCircle)
}

// positioned applies a drag to the local model. The canvas already shows the
// new position, so nothing is sent back.
func (m *Map) positioned(e dispatcher.Event, bind func(shape) func(), kinds ...core.Kind) (any, error) {
	p, err := dispatcher.Decode[protocol.Positioned](e)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	s, err := m.lookup(p.ID, kinds...)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s.moveTo(core.LatLng{Lat: p.Lat, Lng: p.Lng})
	m.persist(s)
	notify := bind(s)
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil, nil
}

func (m *Map) handleViewport(e dispatcher.Event) (any, error) {
	v, err := dispatcher.Decode[core.Viewport](e)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.viewport = v
	m.hasViewport = true
	m.mu.Unlock()
	return nil, nil
}

// lookup finds a live shape by wire id. Callers hold mu.
func (m *Map) lookup(wireID string, kinds ...core.Kind) (shape, error) {
	id, err := strconv.Atoi(wireID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, wireID)
	}
	s, ok := m.shapes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShape, id)
	}
	if !slices.Contains(kinds, s.base().kind) {
		return nil, fmt.Errorf("%w: %d is a %s", ErrKindMismatch, id, s.base().kind)
	}
	return s, nil
}

func (m *Map) sortedIDs() []int {
	ids := make([]int, 0, len(m.shapes))
	for id := range m.shapes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// add registers a new shape and sends it. Callers hold mu.
func (m *Map) add(s shape) {
	h := s.base()
	h.m = m
	h.self = s
	if h.id == 0 {
		h.id = m.nextID
	}
	if h.id >= m.nextID {
		m.nextID = h.id + 1
	}
	m.shapes[h.id] = s
	switch h.kind {
	case core.KindMarker:
		m.markers[h.id] = s.(*Marker)
	case core.KindPolygon:
		m.polygons[h.id] = s.(*Polygon)
	case core.KindPolyline:
		m.polylines[h.id] = s.(*Polyline)
	case core.KindCircle:
		m.circles[h.id] = s.(*Circle)
	}
	m.changed(s)
}

// changed sends and persists the current state of s. Callers hold mu.
func (m *Map) changed(s shape) {
	h := s.base()
	m.trigger(command{op: opUpsert, id: h.id, kind: h.kind})
	m.persist(s)
}

// forget drops s from the model. Callers hold mu.
func (m *Map) forget(s shape) {
	h := s.base()
	delete(m.shapes, h.id)
	delete(m.markers, h.id)
	delete(m.polygons, h.id)
	delete(m.polylines, h.id)
	delete(m.circles, h.id)
	m.unpersist(h.id)
	h.id = 0
}

// clear drops every shape of kind (every shape when kind is 0) and sends one
// clear command. Callers hold mu.
func (m *Map) clear(kind core.Kind) {
	filter := "*"
	if kind != 0 {
		filter = kind.Code()
	}
	for _, id := range m.sortedIDs() {
		if s := m.shapes[id]; kind == 0 || s.base().kind == kind {
			m.forget(s)
		}
	}
	raw, _ := json.Marshal(protocol.Clear{Filter: filter})
	m.trigger(command{op: opClear, msgType: protocol.TypeClear, payload: string(raw)})
}

// ClearMarkers deletes every marker.
func (m *Map) ClearMarkers() { m.withLock(func() { m.clear(core.KindMarker) }) }

// ClearPolygons deletes every polygon.
func (m *Map) ClearPolygons() { m.withLock(func() { m.clear(core.KindPolygon) }) }

// ClearPolylines deletes every polyline.
func (m *Map) ClearPolylines() { m.withLock(func() { m.clear(core.KindPolyline) }) }

// ClearCircles deletes every circle.
func (m *Map) ClearCircles() { m.withLock(func() { m.clear(core.KindCircle) }) }

// ClearShapes deletes every shape.
func (m *Map) ClearShapes() { m.withLock(func() { m.clear(0) }) }

func (m *Map) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// AddMarker places a marker.
func (m *Map) AddMarker(at core.LatLng, draggable bool, title string) *Marker {
	mk := &Marker{
		handle:   &handle{kind: core.KindMarker, visible: true, draggable: draggable},
		location: at,
		title:    title,
		iconURL:  DefaultIconURL,
	}
	m.withLock(func() { m.add(mk) })
	return mk
}

// AddDefaultMarker places a fixed marker at DefaultMarkerLocation.
func (m *Map) AddDefaultMarker() *Marker {
	return m.AddMarker(DefaultMarkerLocation, false, "")
}

// AddPolyline creates a path. It is sent once it has two points.
func (m *Map) AddPolyline(draggable bool, points ...core.LatLng) *Polyline {
	p := &Polyline{
		handle: &handle{kind: core.KindPolyline, visible: true, draggable: draggable},
		points: clonePoints(points),
		line:   defaultLine(),
	}
	m.withLock(func() { m.add(p) })
	return p
}

// AddPolygon creates a filled path. It is sent once it has two points.
func (m *Map) AddPolygon(draggable bool, points ...core.LatLng) *Polygon {
	p := &Polygon{
		Polyline: Polyline{
			handle: &handle{kind: core.KindPolygon, visible: true, draggable: draggable},
			points: clonePoints(points),
			line:   defaultLine(),
		},
		fill: defaultFill(),
	}
	m.withLock(func() { m.add(p) })
	return p
}

// AddCircle creates a circle. A negative radius falls back to
// DefaultCircleRadius.
func (m *Map) AddCircle(center core.LatLng, radius float64, draggable bool) *Circle {
	if radius < 0 {
		radius = DefaultCircleRadius
	}
	c := &Circle{
		handle: &handle{kind: core.KindCircle, visible: true, draggable: draggable},
		center: center,
		radius: radius,
		line:   defaultLine(),
		fill:   defaultFill(),
	}
	m.withLock(func() { m.add(c) })
	return c
}

// AddCircleAtCenter creates a circle of DefaultCircleRadius at center.
func (m *Map) AddCircleAtCenter(center core.LatLng) *Circle {
	return m.AddCircle(center, DefaultCircleRadius, false)
}

// Markers returns the live markers ordered by id.
func (m *Map) Markers() []*Marker { return listOf(m, m.markers) }

// Polylines returns the live polylines ordered by id.
func (m *Map) Polylines() []*Polyline { return listOf(m, m.polylines) }

// Polygons returns the live polygons ordered by id.
func (m *Map) Polygons() []*Polygon { return listOf(m, m.polygons) }

// Circles returns the live circles ordered by id.
func (m *Map) Circles() []*Circle { return listOf(m, m.circles) }

func listOf[T any](m *Map, src map[int]T) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, src[id])
	}
	return out
}

// OnReady registers fn for every ready notification. The returned func
// unregisters it.
func (m *Map) OnReady(fn func(sessionID string)) func() {
	return subscribe(m, &m.onReady, fn)
}

// OnMarkerClicked registers fn for marker clicks.
func (m *Map) OnMarkerClicked(fn func(*Marker)) func() {
	return subscribe(m, &m.onMarkerClicked, fn)
}

// OnMarkerPositioned registers fn for marker drags. fn sees the new location.
func (m *Map) OnMarkerPositioned(fn func(*Marker)) func() {
	return subscribe(m, &m.onMarkerPositioned, fn)
}

// OnPolylinePositioned registers fn for polyline drags.
func (m *Map) OnPolylinePositioned(fn func(*Polyline)) func() {
	return subscribe(m, &m.onPolylinePositioned, fn)
}

// OnPolygonPositioned registers fn for polygon drags.
func (m *Map) OnPolygonPositioned(fn func(*Polygon)) func() {
	return subscribe(m, &m.onPolygonPositioned, fn)
}

// OnCirclePositioned registers fn for circle drags.
func (m *Map) OnCirclePositioned(fn func(*Circle)) func() {
	return subscribe(m, &m.onCirclePositioned, fn)
}

func subscribe[T any](m *Map, set *listenerSet[T], fn func(T)) func() {
	m.mu.Lock()
	id := set.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		set.remove(id)
		m.mu.Unlock()
	}
}

// SetCenter moves the canvas camera.
func (m *Map) SetCenter(at core.LatLng) {
	m.withLock(func() {
		m.triggerView(protocol.TypeSetCenter, protocol.SetCenter{Lat: at.Lat, Lng: at.Lng})
	})
}

// Recenter asks the canvas to return to its configured center.
func (m *Map) Recenter() {
	m.withLock(func() {
		m.triggerView(protocol.TypeCommand, protocol.Command{Command: protocol.ViewCenter})
	})
}

// Resize asks the canvas to re-measure its container.
func (m *Map) Resize() {
	m.withLock(func() {
		m.triggerView(protocol.TypeCommand, protocol.Command{Command: protocol.ViewResize})
	})
}

// SetZoom changes the zoom level.
func (m *Map) SetZoom(zoom float64) {
	m.withLock(func() {
		m.triggerView(protocol.TypeSetZoom, protocol.SetZoom{Zoom: zoom})
	})
}

// SetMapType changes the base layer.
func (m *Map) SetMapType(t core.MapType) error {
	if !t.Valid() {
		return fmt.Errorf("invalid map type %q", t)
	}
	m.withLock(func() {
		m.triggerView(protocol.TypeSetMapType, protocol.SetMapType{MapType: t})
	})
	return nil
}

// SetFitToMarkers toggles keeping every visible marker in view.
func (m *Map) SetFitToMarkers(enabled bool) {
	m.withLock(func() {
		m.triggerView(protocol.TypeSetFitToMarkers, protocol.SetFitToMarkers{Enabled: enabled})
	})
}

// SetOption changes one viewport option such as "disableZoom" or "maxZoom".
func (m *Map) SetOption(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding option %s: %w", name, err)
	}
	m.withLock(func() {
		m.triggerView(protocol.TypeSetOption, protocol.SetOption{Option: name, Value: raw})
	})
	return nil
}

// LoadKML overlays the KML document at url.
func (m *Map) LoadKML(url string) {
	m.withLock(func() {
		m.triggerView(protocol.TypeLoadKml, protocol.LoadKml{URL: url})
	})
}

// RequestViewport asks the canvas for its camera state; see Viewport.
func (m *Map) RequestViewport() {
	m.withLock(func() { m.triggerView(protocol.TypeViewport, nil) })
}

// Viewport returns the last camera state the canvas reported.
func (m *Map) Viewport() (core.Viewport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport, m.hasViewport
}

// Ready reports whether an attached canvas has reported ready.
func (m *Map) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// SessionID returns the session id of the last ready notification.
func (m *Map) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Pending returns the number of queued commands, excluding the one in flight.
func (m *Map) Pending() int {
	return m.pending.Len()
}

// Counts returns the number of live shapes per kind.
func (m *Map) Counts() map[core.Kind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[core.Kind]int, len(core.Kinds))
	for _, s := range m.shapes {
		counts[s.base().kind]++
	}
	return counts
}
