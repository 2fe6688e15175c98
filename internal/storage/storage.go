// Package storage persists the controller's scene so shapes survive a
// controller restart.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/OCAP2/mapsync/pkg/core"
)

// ErrNotFound is returned when deleting a shape that was never saved.
var ErrNotFound = errors.New("shape not found")

// Record is one persisted shape. Payload is the add command payload the
// controller sends for the shape (protocol.AddMarker and friends).
type Record struct {
	ID        int
	Kind      core.Kind
	Visible   bool
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveShape inserts or replaces the record with the same ID.
	SaveShape(r Record) error
	// DeleteShape removes a record. Deleting an unknown ID returns ErrNotFound.
	DeleteShape(id int) error
	// LoadShapes returns every record ordered by ID.
	LoadShapes() ([]Record, error)
}
