// Package gormstorage implements storage.Backend on any GORM dialector.
// The sqlite and postgres setups differ only in how the *gorm.DB is opened.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Shape is the table row of a persisted shape.
type Shape struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false"`
	Kind      string `gorm:"size:16;index"`
	Visible   bool
	Payload   datatypes.JSON
	UpdatedAt time.Time
}

// TableName keeps the table name independent of the struct name.
func (Shape) TableName() string { return "shapes" }

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the shapes table.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend: no database")
	}
	if err := b.deps.DB.AutoMigrate(&Shape{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.deps.Logger.Debug("scene schema ready", "dialect", b.deps.DB.Dialector.Name())
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// SaveShape upserts the row with r.ID.
func (b *Backend) SaveShape(r storage.Record) error {
	row := Shape{
		ID:      r.ID,
		Kind:    r.Kind.String(),
		Visible: r.Visible,
		Payload: datatypes.JSON(r.Payload),
	}
	err := b.deps.DB.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save shape %d: %w", r.ID, err)
	}
	return nil
}

// DeleteShape removes the row with id.
func (b *Backend) DeleteShape(id int) error {
	res := b.deps.DB.Delete(&Shape{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete shape %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", storage.ErrNotFound, id)
	}
	return nil
}

// LoadShapes returns every row ordered by ID.
func (b *Backend) LoadShapes() ([]storage.Record, error) {
	var rows []Shape
	if err := b.deps.DB.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load shapes: %w", err)
	}

	out := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		kind, ok := core.ParseKind(row.Kind)
		if !ok {
			b.deps.Logger.Warn("skipping stored shape of unknown kind", "id", row.ID, "kind", row.Kind)
			continue
		}
		out = append(out, storage.Record{
			ID:        row.ID,
			Kind:      kind,
			Visible:   row.Visible,
			Payload:   []byte(row.Payload),
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}
