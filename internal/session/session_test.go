package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/internal/provider/memory"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	typ     string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Notify(typ string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{typ, payload})
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.typ
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type failingProvider struct {
	*memory.Provider
	calls int
}

func (f *failingProvider) NewMap(c provider.Container, opts provider.MapOptions) (provider.Map, error) {
	f.calls++
	return nil, errors.New("no api")
}

var container = memory.Container{Name: "map", Width: 600, Height: 400}

func config() Config {
	return Config{Viewport: core.Viewport{
		Center:  core.LatLng{Lat: 0.0033446, Lng: 76.3497818},
		Zoom:    8,
		MapType: core.MapTypeRoadmap,
		Options: core.DefaultViewportOptions(),
	}}
}

func newSession(t *testing.T, p provider.Provider, cfg Config) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := New(p, cfg, WithNotifier(rec), WithID("test"))
	require.NoError(t, err)
	return s, rec
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "state(7)", State(7).String())
}

func TestInit_RequiresEveryCondition(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		ready  bool
	}{
		{"nothing", nil, false},
		{"api only", []Event{APILoaded()}, false},
		{"attached only", []Event{Attached(container)}, false},
		{"attached without container", []Event{APILoaded(), Attached(nil)}, false},
		{"api then attach", []Event{APILoaded(), Attached(container)}, true},
		{"attach then api", []Event{Attached(container), APILoaded()}, true},
		{"detached before api", []Event{Attached(container), Detached(), APILoaded()}, false},
		{"reattached", []Event{Attached(container), Detached(), APILoaded(), Attached(nil)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := memory.New(memory.Config{})
			s, rec := newSession(t, p, config())
			for _, ev := range tt.events {
				s.Post(ev)
			}
			s.Drain()

			if tt.ready {
				assert.Equal(t, StateReady, s.State())
				assert.NotNil(t, s.Map())
				assert.Len(t, p.Maps(), 1)
				assert.Equal(t, 1, rec.count(protocol.TypeReady))
			} else {
				assert.Equal(t, StateUninitialized, s.State())
				assert.Nil(t, s.Map())
				assert.Empty(t, p.Maps())
				assert.Zero(t, rec.count(protocol.TypeReady))
			}
		})
	}
}

func TestInit_AtMostOnce(t *testing.T) {
	p := memory.New(memory.Config{})
	s, rec := newSession(t, p, config())

	s.Process(APILoaded())
	s.Process(Attached(container))
	first := s.Map()
	s.Process(APILoaded())
	s.Process(Detached())
	s.Process(Attached(container))
	s.Process(Attached(memory.Container{Name: "other", Width: 10, Height: 10}))
	s.Drain()

	assert.Same(t, first, s.Map())
	assert.Len(t, p.Maps(), 1)
	assert.Equal(t, 1, rec.count(protocol.TypeReady))
}

func TestInit_ReadyPayloadAndViewport(t *testing.T) {
	p := memory.New(memory.Config{})
	cfg := config()
	cfg.KML = "https://example.com/layer.kml"
	s, rec := newSession(t, p, cfg)

	s.Process(APILoaded())
	s.Process(Attached(container))
	s.Drain()

	require.NotEmpty(t, rec.msgs)
	assert.Equal(t, sent{protocol.TypeReady, protocol.Ready{SessionID: "test"}}, rec.msgs[len(rec.msgs)-1])

	m := s.Map().(*memory.Map)
	c, ok := m.Center()
	require.True(t, ok)
	assert.Equal(t, core.LatLng{Lat: 0.0033446, Lng: 76.3497818}, c)
	assert.Equal(t, 8.0, m.Zoom())
	assert.Equal(t, []string{"https://example.com/layer.kml"}, m.KML())
	assert.Equal(t, 1, m.ListenerCount(provider.EventCenterChanged))
	assert.Equal(t, 1, m.ListenerCount(provider.EventZoomChanged))
	assert.Equal(t, 1, m.ListenerCount(provider.EventMapTypeChanged))
}

func TestInit_ProviderFailureStaysUninitialized(t *testing.T) {
	p := &failingProvider{Provider: memory.New(memory.Config{})}
	s, rec := newSession(t, p, config())

	s.Process(APILoaded())
	s.Process(Attached(container))

	assert.Equal(t, StateUninitialized, s.State())
	assert.Empty(t, rec.types())
	assert.Equal(t, 1, p.calls)
}

func TestPassiveListenersDoNotNotify(t *testing.T) {
	p := memory.New(memory.Config{})
	s, rec := newSession(t, p, config())
	s.Process(APILoaded())
	s.Process(Attached(container))
	s.Drain()
	before := len(rec.types())

	m := s.Map().(*memory.Map)
	m.UserPan(core.LatLng{Lat: 1, Lng: 1})
	m.UserZoom(3)
	s.Drain()

	assert.Len(t, rec.types(), before)
	assert.Equal(t, core.LatLng{Lat: 1, Lng: 1}, s.Viewport().Snapshot().Center)
	assert.Equal(t, 3.0, s.Viewport().Snapshot().Zoom)
}

func TestUserInteractionIsNotified(t *testing.T) {
	p := memory.New(memory.Config{})
	s, rec := newSession(t, p, config())
	s.Process(APILoaded())
	s.Process(Attached(container))

	require.NoError(t, s.Shapes().UpsertMarker("m", core.MarkerOptions{Draggable: true}))
	require.NoError(t, s.Shapes().UpsertPolygon("p", core.PolygonOptions{
		Path: []core.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}},
	}))
	require.NoError(t, s.Shapes().UpsertCircle("c", core.CircleOptions{Radius: 5}))
	s.Drain()
	rec.msgs = nil

	ms, _ := s.Shapes().Get("m")
	ms.Overlay().(*memory.Marker).Click()
	ms.Overlay().(*memory.Marker).DragTo(core.LatLng{Lat: 2, Lng: 3})
	ps, _ := s.Shapes().Get("p")
	ps.Overlay().(*memory.Polygon).DragTo(core.LatLng{Lat: 4, Lng: 4})
	cs, _ := s.Shapes().Get("c")
	cs.Overlay().(*memory.Circle).DragTo(core.LatLng{Lat: 5, Lng: 6})

	// Nothing is sent until the loop runs the deferred callbacks.
	assert.Empty(t, rec.types())
	s.Drain()

	assert.Equal(t, []sent{
		{protocol.TypeMarkerClicked, protocol.MarkerClicked{ID: "m"}},
		{protocol.TypeMarkerPositioned, protocol.Positioned{ID: "m", Lat: 2, Lng: 3}},
		{protocol.TypePolyPositioned, protocol.Positioned{ID: "p", Lat: 4, Lng: 4}},
		{protocol.TypeCirclePositioned, protocol.Positioned{ID: "c", Lat: 5, Lng: 6}},
	}, rec.msgs)
}

type ackHandler struct {
	s    *Session
	seen []string
}

func (h *ackHandler) Handle(env protocol.Envelope) {
	h.seen = append(h.seen, env.Type)
	h.s.Notify(protocol.TypeCommandDone, nil)
}

func TestCommandsGoThroughHandler(t *testing.T) {
	s, rec := newSession(t, memory.New(memory.Config{}), config())
	h := &ackHandler{s: s}
	s.SetCommandHandler(h)

	s.Post(Command(protocol.Envelope{Type: protocol.TypeRemove}))
	s.Post(Command(protocol.Envelope{Type: protocol.TypeShow}))
	s.Drain()

	assert.Equal(t, []string{protocol.TypeRemove, protocol.TypeShow}, h.seen)
	assert.Equal(t, []string{protocol.TypeCommandDone, protocol.TypeCommandDone}, rec.types())
}

func TestCommandWithoutHandlerIsAcknowledged(t *testing.T) {
	s, rec := newSession(t, memory.New(memory.Config{}), config())

	s.Process(Command(protocol.Envelope{Type: protocol.TypeRemove}))

	assert.Equal(t, []string{protocol.TypeCommandDone}, rec.types())
}

func TestFitToMarkersOnReady(t *testing.T) {
	cfg := config()
	cfg.Viewport.FitToMarkers = true
	s, _ := newSession(t, memory.New(memory.Config{}), cfg)
	s.Process(APILoaded())
	s.Process(Attached(container))
	m := s.Map().(*memory.Map)

	require.NoError(t, s.Shapes().UpsertMarker("a", core.MarkerOptions{Position: core.LatLng{Lat: 10, Lng: 20}}))
	c, _ := m.Center()
	assert.Equal(t, core.LatLng{Lat: 10, Lng: 20}, c)
	assert.Equal(t, 8.0, m.Zoom())

	require.NoError(t, s.Shapes().UpsertMarker("b", core.MarkerOptions{Position: core.LatLng{Lat: 30, Lng: 40}}))
	fitted := m.Fitted()
	require.Len(t, fitted, 1)
	assert.True(t, fitted[0].Contains(core.LatLng{Lat: 10, Lng: 20}))
	assert.True(t, fitted[0].Contains(core.LatLng{Lat: 30, Lng: 40}))
}

func TestClose(t *testing.T) {
	p := memory.New(memory.Config{})
	s, _ := newSession(t, p, config())
	s.Process(APILoaded())
	s.Process(Attached(container))
	require.NoError(t, s.Shapes().UpsertMarker("a", core.MarkerOptions{}))
	require.NoError(t, s.Shapes().UpsertCircle("b", core.CircleOptions{}))

	s.Close()
	s.Close()

	assert.Zero(t, p.Live())
	assert.Zero(t, s.Shapes().Len())
	assert.False(t, s.Shapes().Ready())
}

func TestRun_ProcessesPostedEventsAndQuery(t *testing.T) {
	p := memory.New(memory.Config{})
	s, rec := newSession(t, p, config())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Post(APILoaded())
	s.Post(Attached(container))

	var state State
	var shapes int
	qctx, qcancel := context.WithTimeout(context.Background(), time.Second)
	defer qcancel()
	require.NoError(t, s.Query(qctx, func(s *Session) {
		state = s.State()
		shapes = s.Shapes().Len()
	}))
	assert.Equal(t, StateReady, state)
	assert.Zero(t, shapes)
	assert.Equal(t, 1, rec.count(protocol.TypeReady))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "api_loaded", KindAPILoaded.String())
	assert.Equal(t, "command", Command(protocol.Envelope{}).Kind.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
