package controller

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/dispatcher"
	"github.com/OCAP2/mapsync/internal/storage/memory"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	Type    string
	Payload json.RawMessage
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	f.msgs = append(f.msgs, sent{Type: msgType, Payload: raw})
	return nil
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Type
	}
	return out
}

func (f *fakeSender) last(t *testing.T, v any) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	m := f.msgs[len(f.msgs)-1]
	if v != nil {
		require.NoError(t, json.Unmarshal(m.Payload, v))
	}
	return m.Type
}

func notify(t *testing.T, m *Map, msgType string, payload any) error {
	t.Helper()
	env := protocol.Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = raw
	}
	return m.Receive(env)
}

func newMap(t *testing.T, opts ...Option) *Map {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

// attached returns a map with a ready canvas.
func attached(t *testing.T, opts ...Option) (*Map, *fakeSender) {
	t.Helper()
	m := newMap(t, opts...)
	s := &fakeSender{}
	m.Attach(s)
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "s1"}))
	return m, s
}

func done(t *testing.T, m *Map) {
	t.Helper()
	require.NoError(t, notify(t, m, protocol.TypeCommandDone, nil))
}

func TestQueuedUntilReady(t *testing.T) {
	m := newMap(t)
	s := &fakeSender{}
	m.AddMarker(core.LatLng{Lat: 1, Lng: 2}, false, "a")
	m.Attach(s)
	assert.Empty(t, s.types())
	assert.False(t, m.Ready())

	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "abc"}))
	assert.True(t, m.Ready())
	assert.Equal(t, "abc", m.SessionID())

	var p protocol.AddMarker
	assert.Equal(t, protocol.TypeAddMarker, s.last(t, &p))
	assert.Equal(t, "1", p.ID)
	assert.Equal(t, "a", p.Title)
	assert.Equal(t, DefaultIconURL, p.IconURL)
}

func TestOneCommandInFlight(t *testing.T) {
	m, s := attached(t)
	m.AddMarker(core.LatLng{Lat: 1}, false, "")
	m.AddMarker(core.LatLng{Lat: 2}, false, "")
	m.AddCircleAtCenter(core.LatLng{Lat: 3})

	assert.Equal(t, []string{protocol.TypeAddMarker}, s.types())
	assert.Equal(t, 2, m.Pending())

	done(t, m)
	assert.Equal(t, []string{protocol.TypeAddMarker, protocol.TypeAddMarker}, s.types())
	done(t, m)
	assert.Equal(t, protocol.TypeAddCircle, s.last(t, nil))
	assert.Equal(t, 0, m.Pending())
}

func TestDuplicateCommandsCollapse(t *testing.T) {
	m, s := attached(t)
	mk := m.AddMarker(core.LatLng{}, false, "")
	// in flight: first add; the next three setters collapse into one upsert
	mk.SetTitle("one")
	mk.SetTitle("two")
	mk.SetTitle("three")
	assert.Equal(t, 1, m.Pending())

	done(t, m)
	var p protocol.AddMarker
	s.last(t, &p)
	assert.Equal(t, "three", p.Title)

	m.Recenter()
	m.Recenter()
	m.Resize()
	assert.Equal(t, 2, m.Pending())
}

func TestSetterOnlyOnChange(t *testing.T) {
	m, s := attached(t)
	mk := m.AddMarker(core.LatLng{Lat: 1}, false, "t")
	done(t, m)

	mk.SetTitle("t")
	mk.SetLocation(core.LatLng{Lat: 1})
	mk.SetDraggable(false)
	mk.SetIconURL("bad url!")
	assert.Len(t, s.types(), 1)

	mk.SetIconURL("blue-dot")
	var p protocol.AddMarker
	s.last(t, &p)
	assert.Equal(t, IconBase+"blue-dot.png", p.IconURL)
}

func TestPolylineIncompleteSkipped(t *testing.T) {
	m, s := attached(t)
	pl := m.AddPolyline(false, core.LatLng{Lat: 1})
	assert.Empty(t, s.types())

	pl.AddPoints(core.LatLng{Lat: 2})
	var p protocol.AddPolyline
	assert.Equal(t, protocol.TypeAddPolyline, s.last(t, &p))
	assert.Len(t, p.Points, 2)
	assert.Equal(t, core.DefaultStroke, p.Stroke)
}

func TestPolylineStyle(t *testing.T) {
	m, s := attached(t)
	pl := m.AddPolyline(false, core.LatLng{Lat: 1}, core.LatLng{Lat: 2})
	done(t, m)

	pl.SetLineThickness(0)
	pl.SetLineThickness(11)
	pl.SetLineOpacity(1.5)
	pl.SetLineColor("xyz")
	assert.Len(t, s.types(), 1)

	pl.SetLineColor("f00")
	done(t, m)
	pl.SetLineThickness(5)
	done(t, m)
	pl.SetLineOpacity(0.5)

	var p protocol.AddPolyline
	s.last(t, &p)
	assert.Equal(t, core.Stroke{Color: "#000F00", Opacity: 0.5, Weight: 5}, p.Stroke)
	assert.Equal(t, "#000F00", pl.LineColor())
}

func TestPolygonFill(t *testing.T) {
	m, s := attached(t)
	pg := m.AddPolygon(true, core.LatLng{Lat: 1}, core.LatLng{Lat: 2}, core.LatLng{Lng: 2})
	var p protocol.AddPolygon
	s.last(t, &p)
	assert.Equal(t, core.DefaultFill, p.Fill)
	assert.True(t, p.Draggable)
	done(t, m)

	pg.SetFillColor("#00ff00")
	s.last(t, &p)
	assert.Equal(t, core.Fill{Color: "#00FF00", Opacity: 0.35}, p.Fill)
	pg.SetFillOpacity(0.1)
	done(t, m)
	s.last(t, &p)
	assert.Equal(t, 0.1, p.Fill.Opacity)
	assert.Equal(t, []*Polygon{pg}, m.Polygons())
	assert.Empty(t, m.Polylines())
}

func TestCircleRadius(t *testing.T) {
	m, s := attached(t)
	c := m.AddCircle(core.LatLng{Lat: 1}, -5, false)
	assert.Equal(t, DefaultCircleRadius, c.Radius())
	done(t, m)

	c.SetRadius(-1)
	assert.Len(t, s.types(), 1)
	c.SetRadius(250)
	var p protocol.AddCircle
	s.last(t, &p)
	assert.Equal(t, 250.0, p.Radius)
}

func TestVisibility(t *testing.T) {
	m, s := attached(t)
	mk := m.AddMarker(core.LatLng{}, false, "")
	done(t, m)

	mk.SetVisible(false)
	var ref protocol.ShapeRef
	assert.Equal(t, protocol.TypeHide, s.last(t, &ref))
	assert.Equal(t, "1", ref.ID)
	done(t, m)

	// changes while hidden are sent when shown again
	mk.SetTitle("later")
	assert.Len(t, s.types(), 2)
	mk.SetVisible(true)
	var p protocol.AddMarker
	assert.Equal(t, protocol.TypeAddMarker, s.last(t, &p))
	assert.Equal(t, "later", p.Title)
}

func TestDelete(t *testing.T) {
	m, s := attached(t)
	mk := m.AddMarker(core.LatLng{}, false, "")
	done(t, m)

	mk.Delete()
	assert.True(t, mk.Deleted())
	assert.Equal(t, 0, mk.ID())
	assert.Equal(t, protocol.TypeRemove, s.last(t, nil))
	done(t, m)

	mk.SetTitle("gone")
	mk.Delete()
	assert.Len(t, s.types(), 2)
	assert.Empty(t, m.Markers())
}

func TestClear(t *testing.T) {
	m, s := attached(t)
	m.AddMarker(core.LatLng{}, false, "")
	done(t, m)
	c := m.AddCircleAtCenter(core.LatLng{})
	done(t, m)

	m.ClearMarkers()
	var p protocol.Clear
	assert.Equal(t, protocol.TypeClear, s.last(t, &p))
	assert.Equal(t, "m", p.Filter)
	assert.Equal(t, map[core.Kind]int{core.KindCircle: 1}, m.Counts())
	done(t, m)

	m.ClearShapes()
	s.last(t, &p)
	assert.Equal(t, "*", p.Filter)
	assert.True(t, c.Deleted())
	assert.Empty(t, m.Counts())
}

func TestReadyReplaysVisibleShapes(t *testing.T) {
	m, s := attached(t)
	m.AddMarker(core.LatLng{}, false, "")
	done(t, m)
	hidden := m.AddCircleAtCenter(core.LatLng{})
	done(t, m)
	hidden.SetVisible(false)
	done(t, m)
	m.AddPolyline(false, core.LatLng{}, core.LatLng{Lat: 1})
	done(t, m)

	m.Detach()
	m.SetZoom(4)
	assert.False(t, m.Ready())

	s2 := &fakeSender{}
	m.Attach(s2)
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "s2"}))
	done(t, m)
	done(t, m)
	assert.Equal(t, []string{protocol.TypeAddMarker, protocol.TypeAddPolyline, protocol.TypeSetZoom}, s2.types())
	assert.Len(t, s.types(), 4)
}

func TestReadyResumedSessionClearsFirst(t *testing.T) {
	m, _ := attached(t)
	m.AddMarker(core.LatLng{}, false, "")
	m.Detach()

	s := &fakeSender{}
	m.Attach(s)
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "s1"}))
	var p protocol.Clear
	assert.Equal(t, protocol.TypeClear, s.last(t, &p))
	assert.Equal(t, "*", p.Filter)
	done(t, m)
	assert.Equal(t, []string{protocol.TypeClear, protocol.TypeAddMarker}, s.types())
}

func TestReadyListener(t *testing.T) {
	m := newMap(t)
	var got []string
	remove := m.OnReady(func(id string) { got = append(got, id) })
	m.Attach(&fakeSender{})
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "a"}))
	remove()
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{SessionID: "b"}))
	assert.Equal(t, []string{"a"}, got)
}

func TestMarkerNotifications(t *testing.T) {
	m, s := attached(t)
	mk := m.AddMarker(core.LatLng{}, true, "")
	done(t, m)

	var clicked, moved []*Marker
	m.OnMarkerClicked(func(v *Marker) { clicked = append(clicked, v) })
	m.OnMarkerPositioned(func(v *Marker) {
		moved = append(moved, v)
		assert.Equal(t, core.LatLng{Lat: 5, Lng: 6}, v.Location())
	})

	require.NoError(t, notify(t, m, protocol.TypeMarkerClicked, protocol.MarkerClicked{ID: "1"}))
	require.NoError(t, notify(t, m, protocol.TypeMarkerPositioned, protocol.Positioned{ID: "1", Lat: 5, Lng: 6}))
	assert.Equal(t, []*Marker{mk}, clicked)
	assert.Equal(t, []*Marker{mk}, moved)
	// drags are not echoed back
	assert.Len(t, s.types(), 1)
}

func TestPositionedErrors(t *testing.T) {
	m, _ := attached(t)
	m.AddCircleAtCenter(core.LatLng{})

	err := notify(t, m, protocol.TypeMarkerPositioned, protocol.Positioned{ID: "1"})
	assert.ErrorIs(t, err, ErrKindMismatch)
	err = notify(t, m, protocol.TypeMarkerClicked, protocol.MarkerClicked{ID: "9"})
	assert.ErrorIs(t, err, ErrUnknownShape)
	err = notify(t, m, protocol.TypeCirclePositioned, protocol.Positioned{ID: "x"})
	assert.ErrorIs(t, err, ErrUnknownShape)
	err = notify(t, m, "bogus", nil)
	assert.ErrorIs(t, err, dispatcher.ErrUnknownCommand)
}

func TestPolyPositionedTranslatesPath(t *testing.T) {
	m, _ := attached(t)
	pg := m.AddPolygon(true, core.LatLng{Lat: 1, Lng: 1}, core.LatLng{Lat: 2, Lng: 3})
	var got *Polygon
	m.OnPolygonPositioned(func(p *Polygon) { got = p })
	m.OnPolylinePositioned(func(*Polyline) { t.Fatal("polyline listener called for polygon") })

	require.NoError(t, notify(t, m, protocol.TypePolyPositioned, protocol.Positioned{ID: "1", Lat: 2, Lng: 2}))
	assert.Same(t, pg, got)
	assert.Equal(t, []core.LatLng{{Lat: 2, Lng: 2}, {Lat: 3, Lng: 4}}, pg.Points())
}

func TestViewportCommands(t *testing.T) {
	m, s := attached(t)
	m.SetCenter(core.LatLng{Lat: 1, Lng: 2})
	var c protocol.SetCenter
	assert.Equal(t, protocol.TypeSetCenter, s.last(t, &c))
	assert.Equal(t, protocol.SetCenter{Lat: 1, Lng: 2}, c)
	done(t, m)

	assert.Error(t, m.SetMapType("moon"))
	require.NoError(t, m.SetMapType(core.MapTypeHybrid))
	done(t, m)
	require.NoError(t, m.SetOption("maxZoom", 12))
	var o protocol.SetOption
	assert.Equal(t, protocol.TypeSetOption, s.last(t, &o))
	assert.JSONEq(t, `12`, string(o.Value))
	done(t, m)

	m.RequestViewport()
	assert.Equal(t, protocol.TypeViewport, s.last(t, nil))
	_, ok := m.Viewport()
	assert.False(t, ok)

	want := core.Viewport{Center: core.LatLng{Lat: 3}, Zoom: 7, MapType: core.MapTypeTerrain}
	require.NoError(t, notify(t, m, protocol.TypeViewport, want))
	got, ok := m.Viewport()
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSendErrorKeepsIdle(t *testing.T) {
	m := newMap(t)
	s := &fakeSender{err: errors.New("closed")}
	m.Attach(s)
	require.NoError(t, notify(t, m, protocol.TypeReady, protocol.Ready{}))
	m.AddMarker(core.LatLng{}, false, "")
	s.err = nil
	m.AddMarker(core.LatLng{Lat: 1}, false, "")
	assert.Equal(t, []string{protocol.TypeAddMarker}, s.types())
}

type recordingTap struct {
	mu    sync.Mutex
	types []string
	err   error
	seen  func(dispatcher.Event)
}

func (r *recordingTap) Dispatch(e dispatcher.Event) (any, error) {
	if r.seen != nil {
		r.seen(e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil, r.err
}

func TestTapSeesNotifications(t *testing.T) {
	tap := &recordingTap{err: dispatcher.ErrUnknownCommand}
	m, _ := attached(t, WithTap(tap))
	m.AddMarker(core.LatLng{}, false, "")
	require.NoError(t, notify(t, m, protocol.TypeMarkerClicked, protocol.MarkerClicked{ID: "1"}))
	assert.Equal(t, []string{protocol.TypeReady, protocol.TypeMarkerClicked}, tap.types)
}

func TestTapRunsAfterModelUpdate(t *testing.T) {
	var mk *Marker
	var atTap []core.LatLng
	tap := &recordingTap{seen: func(e dispatcher.Event) {
		if e.Type == protocol.TypeMarkerPositioned {
			atTap = append(atTap, mk.Location())
		}
	}}
	m, _ := attached(t, WithTap(tap))
	mk = m.AddMarker(core.LatLng{}, true, "")

	require.NoError(t, notify(t, m, protocol.TypeMarkerPositioned, protocol.Positioned{ID: "1", Lat: 5, Lng: 6}))
	assert.Equal(t, []core.LatLng{{Lat: 5, Lng: 6}}, atTap)

	err := notify(t, m, protocol.TypeMarkerPositioned, protocol.Positioned{ID: "99", Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, ErrUnknownShape)
	assert.Equal(t, []string{protocol.TypeReady, protocol.TypeMarkerPositioned, protocol.TypeMarkerPositioned}, tap.types)
}

func TestPersistAndRestore(t *testing.T) {
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.Init())

	m, _ := attached(t, WithStore(store))
	m.AddMarker(core.LatLng{Lat: 1, Lng: 2}, true, "kept")
	pl := m.AddPolyline(false, core.LatLng{}, core.LatLng{Lat: 1})
	c := m.AddCircle(core.LatLng{Lat: 4}, 50, false)
	c.SetVisible(false)
	gone := m.AddMarker(core.LatLng{}, false, "")
	gone.Delete()
	pl.SetLineColor("#123456")

	records, err := store.LoadShapes()
	require.NoError(t, err)
	require.Len(t, records, 3)

	restored := newMap(t, WithStore(store))
	n, err := restored.Restore()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	markers := restored.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, 1, markers[0].ID())
	assert.Equal(t, "kept", markers[0].Title())
	assert.True(t, markers[0].Draggable())
	assert.Equal(t, "#123456", restored.Polylines()[0].LineColor())
	circles := restored.Circles()
	require.Len(t, circles, 1)
	assert.False(t, circles[0].Visible())
	assert.Equal(t, 50.0, circles[0].Radius())

	next := restored.AddMarker(core.LatLng{}, false, "")
	assert.Equal(t, 4, next.ID())
}
