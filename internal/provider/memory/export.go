package memory

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/mapsync/internal/geo"
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Export renders the overlays attached to m as a GeoJSON FeatureCollection.
// Circles are exported as points carrying a "radius" property; polylines
// with fewer than two vertices and polygons with fewer than three are skipped.
func (p *Provider) Export(m provider.Map) ([]byte, error) {
	fc := geom.GeoJSONFeatureCollection{}
	for _, o := range p.Attached(m) {
		f, ok, err := feature(o)
		if err != nil {
			return nil, err
		}
		if ok {
			fc = append(fc, f)
		}
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal scene: %w", err)
	}
	return data, nil
}

func feature(o provider.Overlay) (geom.GeoJSONFeature, bool, error) {
	k, ok := o.(interface{ Kind() core.Kind })
	if !ok {
		return geom.GeoJSONFeature{}, false, fmt.Errorf("unsupported overlay %T", o)
	}
	switch k.Kind() {
	case core.KindMarker:
		h := o.(*Marker)
		opts := h.Options()
		pt, err := geo.Point(opts.Position)
		if err != nil {
			return geom.GeoJSONFeature{}, false, nil
		}
		return geom.GeoJSONFeature{
			ID:       h.id,
			Geometry: pt.AsGeometry(),
			Properties: map[string]any{
				"kind":      core.KindMarker.String(),
				"title":     opts.Title,
				"iconUrl":   opts.IconURL,
				"draggable": opts.Draggable,
			},
		}, true, nil
	case core.KindPolygon:
		h := o.(*Polygon)
		opts := h.Options()
		poly, err := geo.Polygon(opts.Path)
		if err != nil {
			return geom.GeoJSONFeature{}, false, nil
		}
		return geom.GeoJSONFeature{
			ID:       h.id,
			Geometry: poly.AsGeometry(),
			Properties: map[string]any{
				"kind":        core.KindPolygon.String(),
				"draggable":   opts.Draggable,
				"stroke":      opts.Stroke.Color,
				"fill":        opts.Fill.Color,
				"fillOpacity": opts.Fill.Opacity,
			},
		}, true, nil
	case core.KindPolyline:
		h := o.(*Polyline)
		opts := h.Options()
		ls, err := geo.LineString(opts.Path)
		if err != nil {
			return geom.GeoJSONFeature{}, false, nil
		}
		return geom.GeoJSONFeature{
			ID:       h.id,
			Geometry: ls.AsGeometry(),
			Properties: map[string]any{
				"kind":      core.KindPolyline.String(),
				"draggable": opts.Draggable,
				"stroke":    opts.Stroke.Color,
			},
		}, true, nil
	case core.KindCircle:
		h := o.(*Circle)
		opts := h.Options()
		pt, err := geo.Point(opts.Center)
		if err != nil {
			return geom.GeoJSONFeature{}, false, nil
		}
		return geom.GeoJSONFeature{
			ID:       h.id,
			Geometry: pt.AsGeometry(),
			Properties: map[string]any{
				"kind":      core.KindCircle.String(),
				"radius":    opts.Radius,
				"draggable": opts.Draggable,
			},
		}, true, nil
	}
	return geom.GeoJSONFeature{}, false, fmt.Errorf("unsupported overlay kind %v", k.Kind())
}
