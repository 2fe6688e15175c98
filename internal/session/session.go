// Package session owns the lifecycle of one embedded map: the guarded
// construction of the map object, the shape registry and the viewport, and
// the single event loop every input goes through.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/internal/queue"
	"github.com/OCAP2/mapsync/internal/shape"
	"github.com/OCAP2/mapsync/internal/viewport"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownCommand is reported for an unrecognized command token.
var ErrUnknownCommand = errors.New("unknown command")

// State is the lifecycle state of a session.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config is the construction-time configuration of a session.
type Config struct {
	Viewport core.Viewport
	Styles   json.RawMessage
	KML      string
}

// Notifier delivers outbound notifications to the controller.
type Notifier interface {
	Notify(msgType string, payload any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msgType string, payload any) error

// Notify calls f.
func (f NotifierFunc) Notify(msgType string, payload any) error { return f(msgType, payload) }

// CommandHandler processes one controller command. It runs on the session
// goroutine and must acknowledge the command itself.
type CommandHandler interface {
	Handle(env protocol.Envelope)
}

// Option configures a Session.
type Option func(*Session)

// WithNotifier sets where notifications go.
func WithNotifier(n Notifier) Option {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session is the state machine Uninitialized -> Ready plus the objects that
// only exist once the map does. All fields are owned by the goroutine that
// calls Process (normally Run); other goroutines use Post and Query.
type Session struct {
	id       string
	cfg      Config
	provider provider.Provider
	notifier Notifier
	commands CommandHandler
	log      *slog.Logger

	state     atomic.Int32
	apiReady  bool
	attached  bool
	container provider.Container
	m         provider.Map
	readySent bool
	closed    bool

	shapes *shape.Registry
	view   *viewport.Synchronizer

	inbox *queue.Queue[Event]
	wake  chan struct{}

	commandCount metric.Int64Counter
	notifyCount  metric.Int64Counter
}

// New creates an uninitialized session drawing with p.
func New(p provider.Provider, cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		provider: p,
		notifier: NotifierFunc(func(string, any) error { return nil }),
		log:      slog.Default(),
		inbox:    queue.New[Event](),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)

	s.view = viewport.New(cfg.Viewport, cfg.Styles, func() []core.LatLng {
		return s.shapes.VisibleMarkers()
	})
	s.view.SetScheduler(s.schedule)
	s.shapes = shape.NewRegistry(p,
		shape.WithObserver(observer{s}),
		shape.WithScheduler(s.schedule),
		shape.WithMarkerHook(s.view.FitIfEnabled),
	)

	m := meter()
	var err error
	s.commandCount, err = m.Int64Counter(
		"session.commands",
		metric.WithDescription("Controller commands processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command counter: %w", err)
	}
	s.notifyCount, err = m.Int64Counter(
		"session.notifications",
		metric.WithDescription("Notifications sent to the controller"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification counter: %w", err)
	}

	return s, nil
}

// SetCommandHandler installs the command protocol handler.
func (s *Session) SetCommandHandler(h CommandHandler) {
	s.commands = h
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Shapes returns the shape registry.
func (s *Session) Shapes() *shape.Registry { return s.shapes }

// Viewport returns the viewport synchronizer.
func (s *Session) Viewport() *viewport.Synchronizer { return s.view }

// Map returns the live map object, or nil before Ready.
func (s *Session) Map() provider.Map { return s.m }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.log }

// Post enqueues ev for the session loop. Safe from any goroutine,
// including provider callbacks fired while an event is being processed.
func (s *Session) Post(ev Event) {
	s.inbox.Push(ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) schedule(fn func()) {
	s.Post(Callback(fn))
}

// Run processes events until ctx is done, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	for {
		s.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Drain processes queued events, including any they enqueue, until the
// queue is empty.
func (s *Session) Drain() {
	for {
		ev, ok := s.inbox.Shift()
		if !ok {
			return
		}
		s.Process(ev)
	}
}

// Query runs fn on the session goroutine and waits for it. It must not be
// called from that goroutine.
func (s *Session) Query(ctx context.Context, fn func(*Session)) error {
	done := make(chan struct{})
	s.Post(Callback(func() {
		fn(s)
		close(done)
	}))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process handles a single event.
func (s *Session) Process(ev Event) {
	switch ev.Kind {
	case KindAPILoaded:
		s.apiReady = true
		s.tryInit()
	case KindAttached:
		s.attached = true
		if ev.Container != nil {
			s.container = ev.Container
		}
		s.tryInit()
	case KindDetached:
		s.attached = false
	case KindCommand:
		s.command(ev.Command)
	case KindCallback:
		if ev.Fn != nil {
			ev.Fn()
		}
	default:
		s.log.Warn("dropping event of unknown kind", "kind", ev.Kind)
	}
}

func (s *Session) command(env protocol.Envelope) {
	s.commandCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
	if s.commands == nil {
		s.log.Warn("no command handler, acknowledging", "type", env.Type)
		s.Notify(protocol.TypeCommandDone, nil)
		return
	}
	s.commands.Handle(env)
}

// tryInit is the only place the map object is built. It is a no-op unless
// the API is loaded, the container is attached and present, no map exists
// yet, and the session is still open.
func (s *Session) tryInit() {
	if s.m != nil || s.closed || !s.apiReady || !s.attached || s.container == nil {
		return
	}

	m, err := s.provider.NewMap(s.container, s.view.MapOptions())
	if err != nil {
		s.log.Error("creating map", "container", s.container.ID(), "error", err)
		return
	}
	s.m = m
	s.state.Store(int32(StateReady))

	s.view.Bind(m)
	if s.cfg.KML != "" {
		if err := s.view.LoadKML(s.cfg.KML); err != nil {
			s.log.Warn("loading kml", "url", s.cfg.KML, "error", err)
		}
	}
	s.shapes.Attach(m)
	s.view.FitIfEnabled()

	s.log.Info("map ready", "container", s.container.ID())
	if !s.readySent {
		s.readySent = true
		s.Notify(protocol.TypeReady, protocol.Ready{SessionID: s.id})
	}
}

// Notify sends a notification to the controller, logging delivery errors.
func (s *Session) Notify(msgType string, payload any) {
	s.notifyCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msgType)))
	if err := s.notifier.Notify(msgType, payload); err != nil {
		s.log.Error("notify failed", "type", msgType, "error", err)
	}
}

// Close ends the session: every shape handle is destroyed and the viewport
// listeners are removed. The map object is left to the host.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.shapes.Close()
	s.view.Unbind()
	s.log.Info("session closed")
}

// observer turns registry callbacks into notifications.
type observer struct {
	s *Session
}

func (o observer) MarkerClicked(id string) {
	o.s.Notify(protocol.TypeMarkerClicked, protocol.MarkerClicked{ID: id})
}

func (o observer) Positioned(kind core.Kind, id string, at core.LatLng) {
	var typ string
	switch kind {
	case core.KindMarker:
		typ = protocol.TypeMarkerPositioned
	case core.KindPolygon, core.KindPolyline:
		typ = protocol.TypePolyPositioned
	case core.KindCircle:
		typ = protocol.TypeCirclePositioned
	default:
		return
	}
	o.s.Notify(typ, protocol.Positioned{ID: id, Lat: at.Lat, Lng: at.Lng})
}
