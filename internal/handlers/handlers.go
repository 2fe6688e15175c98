// Package handlers implements the controller command protocol on top of a
// session: every inbound command is decoded, applied to the shape registry
// or the viewport, and acknowledged with exactly one commandDone.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/mapsync/internal/dispatcher"
	"github.com/OCAP2/mapsync/internal/session"
	"github.com/OCAP2/mapsync/internal/shape"
	"github.com/OCAP2/mapsync/internal/viewport"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

// Service handles controller commands for one session.
type Service struct {
	sess *session.Session
	d    *dispatcher.Dispatcher
	log  *slog.Logger
}

// NewService builds the command handlers for sess and installs them as its
// command handler. logger receives the dispatcher's per-command logging.
func NewService(sess *session.Session, logger dispatcher.Logger) (*Service, error) {
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	s := &Service{sess: sess, d: d, log: sess.Logger()}
	s.RegisterHandlers(d)
	sess.SetCommandHandler(s)
	return s, nil
}

// RegisterHandlers registers every command of the protocol with d.
// Commands run synchronously on the session goroutine so that the
// acknowledgement order equals the command order.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Shapes
	d.Register(protocol.TypeAddMarker, s.tolerant(s.handleAddMarker), dispatcher.Logged())
	d.Register(protocol.TypeAddPolygon, s.tolerant(s.handleAddPolygon), dispatcher.Logged())
	d.Register(protocol.TypeAddPolyline, s.tolerant(s.handleAddPolyline), dispatcher.Logged())
	d.Register(protocol.TypeAddCircle, s.tolerant(s.handleAddCircle), dispatcher.Logged())
	d.Register(protocol.TypeRemove, s.tolerant(s.handleRemove), dispatcher.Logged())
	d.Register(protocol.TypeHide, s.tolerant(s.handleHide), dispatcher.Logged())
	d.Register(protocol.TypeShow, s.tolerant(s.handleShow), dispatcher.Logged())
	d.Register(protocol.TypeClear, s.tolerant(s.handleClear), dispatcher.Logged())

	// Viewport
	d.Register(protocol.TypeCommand, s.tolerant(s.handleCommand), dispatcher.Logged())
	d.Register(protocol.TypeSetCenter, s.tolerant(s.handleSetCenter), dispatcher.Logged())
	d.Register(protocol.TypeSetZoom, s.tolerant(s.handleSetZoom), dispatcher.Logged())
	d.Register(protocol.TypeSetMapType, s.tolerant(s.handleSetMapType), dispatcher.Logged())
	d.Register(protocol.TypeSetOption, s.tolerant(s.handleSetOption), dispatcher.Logged())
	d.Register(protocol.TypeSetFitToMarkers, s.tolerant(s.handleSetFitToMarkers), dispatcher.Logged())
	d.Register(protocol.TypeLoadKml, s.tolerant(s.handleLoadKml), dispatcher.Logged())
	d.Register(protocol.TypeViewport, s.handleViewport, dispatcher.Logged())

	d.Fallback(s.handleUnknown, dispatcher.Logged())
}

// Handle dispatches one command and acknowledges it, whatever the outcome.
func (s *Service) Handle(env protocol.Envelope) {
	defer s.sess.Notify(protocol.TypeCommandDone, nil)
	// Failures are logged by the dispatcher.
	_, _ = s.d.Dispatch(dispatcher.FromEnvelope(env))
}

// tolerant turns the not-ready rejection into a quiet no-op: commands that
// race with map construction are acknowledged like any other.
func (s *Service) tolerant(h dispatcher.HandlerFunc) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		result, err := h(e)
		if errors.Is(err, shape.ErrNotReady) || errors.Is(err, viewport.ErrNotReady) {
			s.log.Debug("command before map ready", "type", e.Type)
			return nil, nil
		}
		return result, err
	}
}

func (s *Service) handleAddMarker(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.AddMarker](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().UpsertMarker(p.ID, core.MarkerOptions{
		Position:  core.LatLng{Lat: p.Lat, Lng: p.Lng},
		Draggable: p.Draggable,
		Title:     p.Title,
		IconURL:   p.IconURL,
	})
}

func (s *Service) handleAddPolygon(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.AddPolygon](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().UpsertPolygon(p.ID, core.PolygonOptions{
		Path:      p.Points,
		Draggable: p.Draggable,
		Stroke:    p.Stroke,
		Fill:      p.Fill,
	})
}

func (s *Service) handleAddPolyline(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.AddPolyline](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().UpsertPolyline(p.ID, core.PolylineOptions{
		Path:      p.Points,
		Draggable: p.Draggable,
		Stroke:    p.Stroke,
	})
}

func (s *Service) handleAddCircle(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.AddCircle](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().UpsertCircle(p.ID, core.CircleOptions{
		Center:    core.LatLng{Lat: p.Lat, Lng: p.Lng},
		Radius:    p.Radius,
		Draggable: p.Draggable,
		Stroke:    p.Stroke,
		Fill:      p.Fill,
	})
}

func (s *Service) handleRemove(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.ShapeRef](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().Remove(p.ID)
}

func (s *Service) handleHide(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.ShapeRef](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().Hide(p.ID)
}

func (s *Service) handleShow(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.ShapeRef](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Shapes().Show(p.ID)
}

func (s *Service) handleClear(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.Clear](e)
	if err != nil {
		return nil, err
	}
	n, err := s.sess.Shapes().Clear(p.Filter)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// handleCommand runs a viewport command token. "C" re-centers and "R"
// resizes; the long names are accepted too. An empty token does nothing.
func (s *Service) handleCommand(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.Command](e)
	if err != nil {
		return nil, err
	}
	view := s.sess.Viewport()
	switch p.Command {
	case "":
		return nil, nil
	case protocol.ViewCenter, "center":
		return nil, view.Recenter()
	case protocol.ViewResize, "resize":
		return nil, view.Resize()
	}
	return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, p.Command)
}

func (s *Service) handleSetCenter(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.SetCenter](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Viewport().SetCenter(core.LatLng{Lat: p.Lat, Lng: p.Lng})
}

func (s *Service) handleSetZoom(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.SetZoom](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Viewport().SetZoom(p.Zoom)
}

func (s *Service) handleSetMapType(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.SetMapType](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Viewport().SetMapType(p.MapType)
}

func (s *Service) handleSetOption(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.SetOption](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Viewport().SetOption(p.Option, p.Value)
}

func (s *Service) handleSetFitToMarkers(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.SetFitToMarkers](e)
	if err != nil {
		return nil, err
	}
	s.sess.Viewport().SetFitToMarkers(p.Enabled)
	return nil, nil
}

func (s *Service) handleLoadKml(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[protocol.LoadKml](e)
	if err != nil {
		return nil, err
	}
	return nil, s.sess.Viewport().LoadKML(p.URL)
}

// handleViewport answers the query with the current camera state. The
// reply precedes the acknowledgement.
func (s *Service) handleViewport(e dispatcher.Event) (any, error) {
	v := s.sess.Viewport().Snapshot()
	s.sess.Notify(protocol.TypeViewport, v)
	return v, nil
}

func (s *Service) handleUnknown(e dispatcher.Event) (any, error) {
	return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, e.Type)
}
