// Package sqlitestorage runs the GORM scene store on SQLite. With no file
// path the database lives in memory and is dumped to DumpPath periodically
// via VACUUM INTO and once more on Close.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/database"
	gormstorage "github.com/OCAP2/mapsync/internal/storage/gorm"
	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New opens the SQLite database described by cfg.
func New(cfg config.SQLiteConfig, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := database.OpenSqlite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}),
		db:       db,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

func (b *Backend) inMemory() bool {
	if b.cfg.DumpPath == "" {
		return false
	}
	return b.cfg.Path == "" || strings.Contains(b.cfg.Path, "mode=memory")
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the
// embedded GORM backend.
func (b *Backend) Close() error {
	close(b.stopChan)
	b.wg.Wait()
	if b.inMemory() {
		b.dump()
	}
	return b.Backend.Close()
}

// dumpLoop periodically dumps the in-memory SQLite database to disk.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.dump()
		}
	}
}

func (b *Backend) dump() {
	took, err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
	if err != nil {
		b.log.Error("dumping scene to disk", "path", b.cfg.DumpPath, "error", err)
		return
	}
	b.log.Debug("dumped scene to disk", "path", b.cfg.DumpPath, "duration", took)
}
