package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

// persist saves s to the store. Callers hold mu.
func (m *Map) persist(s shape) {
	if m.store == nil {
		return
	}
	h := s.base()
	raw, err := json.Marshal(s.payload())
	if err != nil {
		m.log.Error("encoding shape", "id", h.id, "error", err)
		return
	}
	r := storage.Record{ID: h.id, Kind: h.kind, Visible: h.visible, Payload: raw, UpdatedAt: time.Now()}
	if err := m.store.SaveShape(r); err != nil {
		m.log.Error("saving shape", "id", h.id, "error", err)
	}
}

// unpersist removes a shape from the store. Callers hold mu.
func (m *Map) unpersist(id int) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteShape(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.log.Error("deleting shape", "id", id, "error", err)
	}
}

// Restore loads the saved scene into an empty map. Shapes keep their ids.
func (m *Map) Restore() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.LoadShapes()
	if err != nil {
		return 0, fmt.Errorf("loading scene: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range records {
		if _, ok := m.shapes[r.ID]; ok || r.ID <= 0 {
			m.log.Warn("skipping saved shape", "id", r.ID)
			continue
		}
		s, err := decodeRecord(r)
		if err != nil {
			return n, err
		}
		m.add(s)
		n++
	}
	m.log.Info("scene restored", "shapes", n)
	return n, nil
}

func decodeRecord(r storage.Record) (shape, error) {
	h := &handle{id: r.ID, kind: r.Kind, visible: r.Visible}
	switch r.Kind {
	case core.KindMarker:
		var p protocol.AddMarker
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding marker %d: %w", r.ID, err)
		}
		h.draggable = p.Draggable
		icon := p.IconURL
		if icon == "" {
			icon = DefaultIconURL
		}
		return &Marker{handle: h, location: core.LatLng{Lat: p.Lat, Lng: p.Lng}, title: p.Title, iconURL: icon}, nil
	case core.KindPolyline:
		var p protocol.AddPolyline
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding polyline %d: %w", r.ID, err)
		}
		h.draggable = p.Draggable
		return &Polyline{handle: h, points: p.Points, line: lineOf(p.Stroke)}, nil
	case core.KindPolygon:
		var p protocol.AddPolygon
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding polygon %d: %w", r.ID, err)
		}
		h.draggable = p.Draggable
		return &Polygon{
			Polyline: Polyline{handle: h, points: p.Points, line: lineOf(p.Stroke)},
			fill:     fill{color: p.Fill.Color, opacity: p.Fill.Opacity},
		}, nil
	case core.KindCircle:
		var p protocol.AddCircle
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding circle %d: %w", r.ID, err)
		}
		h.draggable = p.Draggable
		return &Circle{
			handle: h,
			center: core.LatLng{Lat: p.Lat, Lng: p.Lng},
			radius: p.Radius,
			line:   lineOf(p.Stroke),
			fill:   fill{color: p.Fill.Color, opacity: p.Fill.Opacity},
		}, nil
	}
	return nil, fmt.Errorf("decoding shape %d: unknown kind %s", r.ID, r.Kind)
}

func lineOf(s core.Stroke) line {
	return line{color: s.Color, opacity: s.Opacity, thickness: s.Weight}
}
