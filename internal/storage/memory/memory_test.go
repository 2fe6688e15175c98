package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func record(id int, kind core.Kind) storage.Record {
	return storage.Record{
		ID:      id,
		Kind:    kind,
		Visible: true,
		Payload: json.RawMessage(`{"id":"` + string(rune('0'+id)) + `"}`),
	}
}

func TestSaveLoadDelete(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.SaveShape(record(3, core.KindCircle)))
	require.NoError(t, b.SaveShape(record(1, core.KindMarker)))
	require.NoError(t, b.SaveShape(record(2, core.KindPolygon)))

	got, err := b.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].ID, got[1].ID, got[2].ID})
	assert.False(t, got[0].UpdatedAt.IsZero(), "save stamps UpdatedAt")

	require.NoError(t, b.DeleteShape(2))
	got, err = b.LoadShapes()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSaveReplaces(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.SaveShape(record(1, core.KindMarker)))

	hidden := record(1, core.KindMarker)
	hidden.Visible = false
	require.NoError(t, b.SaveShape(hidden))

	got, err := b.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Visible)
}

func TestSaveCopiesPayload(t *testing.T) {
	b := New(config.MemoryConfig{})
	r := record(1, core.KindMarker)
	require.NoError(t, b.SaveShape(r))
	r.Payload[0] = 'X'

	got, err := b.LoadShapes()
	require.NoError(t, err)
	assert.Equal(t, byte('{'), got[0].Payload[0])
}

func TestDeleteUnknown(t *testing.T) {
	b := New(config.MemoryConfig{})
	assert.ErrorIs(t, b.DeleteShape(42), storage.ErrNotFound)
}

func TestExportImport(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			cfg := config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: compress}
			saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			b := New(cfg)
			b.now = func() time.Time { return saved }
			require.NoError(t, b.Init())
			require.NoError(t, b.SaveShape(record(1, core.KindMarker)))
			require.NoError(t, b.SaveShape(record(2, core.KindPolyline)))
			require.NoError(t, b.Close())

			path := b.GetExportedFilePath()
			assert.FileExists(t, path)
			if compress {
				assert.Equal(t, sceneFileGz, filepath.Base(path))
			} else {
				assert.Equal(t, sceneFile, filepath.Base(path))
			}

			restored := New(cfg)
			require.NoError(t, restored.Init())
			got, err := restored.LoadShapes()
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, core.KindPolyline, got[1].Kind)
			assert.JSONEq(t, `{"id":"1"}`, string(got[0].Payload))
			assert.True(t, got[0].UpdatedAt.Equal(saved))
		})
	}
}

func TestImportRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	body := `{"savedAt":"2026-01-01T00:00:00Z","shapes":[{"id":1,"kind":"hexagon","visible":true,"payload":{}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, sceneFile), []byte(body), 0644))

	b := New(config.MemoryConfig{OutputDir: dir})
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestCloseWithoutOutputDir(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.SaveShape(record(1, core.KindMarker)))
	require.NoError(t, b.Close())
	assert.Empty(t, b.GetExportedFilePath())
}
