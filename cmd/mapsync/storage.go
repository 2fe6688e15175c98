package main

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/database"
	"github.com/OCAP2/mapsync/internal/storage"
	gormstorage "github.com/OCAP2/mapsync/internal/storage/gorm"
	"github.com/OCAP2/mapsync/internal/storage/memory"
	sqlitestorage "github.com/OCAP2/mapsync/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

func createStorageBackend(cfg config.StorageConfig, log *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		mgr := database.NewManager(zlog, config.GetDBConfig(), cfg.SQLite.Path)
		if err := mgr.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("Postgres storage backend initialized", "fallback", mgr.ShouldSaveLocal)
		return gormstorage.New(gormstorage.Dependencies{DB: mgr.DB, Logger: log}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(cfg.SQLite, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		log.Info("SQLite storage backend initialized", "path", cfg.SQLite.Path, "dumpPath", cfg.SQLite.DumpPath)
		return backend, nil

	case "memory", "":
		log.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}
