package sqlitestorage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/database"
	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func memoryPath() string {
	return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
}

func TestFileBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")

	b, err := New(config.SQLiteConfig{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.SaveShape(storage.Record{ID: 1, Kind: core.KindMarker, Visible: true, Payload: json.RawMessage(`{"id":"1"}`)}))
	require.NoError(t, b.Close())

	reopened, err := New(config.SQLiteConfig{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Init())
	defer reopened.Close()

	got, err := reopened.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.KindMarker, got[0].Kind)
}

func TestMemoryBackend_DumpsOnClose(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "out", "scene.db")

	b, err := New(config.SQLiteConfig{Path: memoryPath(), DumpPath: dump}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.SaveShape(storage.Record{ID: 3, Kind: core.KindCircle, Payload: json.RawMessage(`{}`)}))
	require.NoError(t, b.Close())

	assert.FileExists(t, dump)
	db, err := database.OpenSqlite(dump)
	require.NoError(t, err)
	var n int64
	require.NoError(t, db.Table("shapes").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestMemoryBackend_PeriodicDump(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "scene.db")

	b, err := New(config.SQLiteConfig{Path: memoryPath(), DumpPath: dump, DumpInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Eventually(t, func() bool { return fileExists(dump) }, 2*time.Second, 10*time.Millisecond)
}

func TestInMemory(t *testing.T) {
	tests := []struct {
		cfg  config.SQLiteConfig
		want bool
	}{
		{config.SQLiteConfig{}, false},
		{config.SQLiteConfig{DumpPath: "x.db"}, true},
		{config.SQLiteConfig{Path: "scene.db", DumpPath: "x.db"}, false},
		{config.SQLiteConfig{Path: "file:a?mode=memory&cache=shared", DumpPath: "x.db"}, true},
	}
	for _, tt := range tests {
		b := &Backend{cfg: tt.cfg}
		assert.Equal(t, tt.want, b.inMemory(), "%+v", tt.cfg)
	}
}

func fileExists(path string) bool {
	matches, err := filepath.Glob(path)
	return err == nil && len(matches) == 1
}
