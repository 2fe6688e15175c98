// Package memory keeps the scene in memory and writes it to a JSON file on
// Close, reading it back on Init.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/storage"
)

// Backend stores scene records in memory and exports them to JSON
type Backend struct {
	cfg     config.MemoryConfig
	records map[int]storage.Record
	now     func() time.Time

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		records: make(map[int]storage.Record),
		now:     time.Now,
	}
}

// Init loads the previous export, if any.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	records, err := b.importJSON()
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.records[r.ID] = r
	}
	return nil
}

// Close exports the scene when an output directory is configured.
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exportJSON()
}

// SaveShape inserts or replaces a record.
func (b *Backend) SaveShape(r storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = b.now()
	}
	r.Payload = append([]byte(nil), r.Payload...)
	b.records[r.ID] = r
	return nil
}

// DeleteShape removes a record.
func (b *Backend) DeleteShape(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[id]; !ok {
		return fmt.Errorf("%w: %d", storage.ErrNotFound, id)
	}
	delete(b.records, id)
	return nil
}

// LoadShapes returns every record ordered by ID.
func (b *Backend) LoadShapes() ([]storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sorted(), nil
}

// GetExportedFilePath returns the path of the last export.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

func (b *Backend) sorted() []storage.Record {
	out := make([]storage.Record, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
