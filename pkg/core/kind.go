// pkg/core/kind.go
package core

import "fmt"

// Kind tags the variant of a shape.
type Kind uint8

const (
	KindMarker Kind = iota + 1
	KindPolygon
	KindPolyline
	KindCircle
)

// Kinds lists every shape kind in a stable order.
var Kinds = []Kind{KindMarker, KindPolygon, KindPolyline, KindCircle}

func (k Kind) String() string {
	switch k {
	case KindMarker:
		return "marker"
	case KindPolygon:
		return "polygon"
	case KindPolyline:
		return "polyline"
	case KindCircle:
		return "circle"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Code is the single-letter filter code of the kind used by the clear command.
func (k Kind) Code() string {
	switch k {
	case KindMarker:
		return "m"
	case KindPolygon:
		return "p"
	case KindPolyline:
		return "l"
	case KindCircle:
		return "c"
	}
	return ""
}

// ParseKind accepts either the single-letter code or the full name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if s == k.Code() || s == k.String() {
			return k, true
		}
	}
	return 0, false
}
