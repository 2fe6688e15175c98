package gormstorage

import (
	"encoding/json"
	"testing"

	"github.com/OCAP2/mapsync/internal/database"
	"github.com/OCAP2/mapsync/internal/storage"
	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestInit_CreatesTable(t *testing.T) {
	b := newTestBackend(t)
	assert.True(t, b.DB().Migrator().HasTable(&Shape{}))
	assert.True(t, b.DB().Migrator().HasTable("shapes"))
}

func TestSaveAndLoad(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.SaveShape(storage.Record{
		ID: 2, Kind: core.KindCircle, Visible: true,
		Payload: json.RawMessage(`{"id":"2","radius":1000}`),
	}))
	require.NoError(t, b.SaveShape(storage.Record{
		ID: 1, Kind: core.KindMarker, Visible: false,
		Payload: json.RawMessage(`{"id":"1","lat":1,"lng":2}`),
	}))

	got, err := b.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, core.KindMarker, got[0].Kind)
	assert.False(t, got[0].Visible)
	assert.JSONEq(t, `{"id":"1","lat":1,"lng":2}`, string(got[0].Payload))
	assert.False(t, got[0].UpdatedAt.IsZero())

	assert.Equal(t, core.KindCircle, got[1].Kind)
}

func TestSave_Upserts(t *testing.T) {
	b := newTestBackend(t)

	r := storage.Record{ID: 5, Kind: core.KindPolyline, Visible: true, Payload: json.RawMessage(`{"v":1}`)}
	require.NoError(t, b.SaveShape(r))
	r.Visible = false
	r.Payload = json.RawMessage(`{"v":2}`)
	require.NoError(t, b.SaveShape(r))

	got, err := b.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Visible)
	assert.JSONEq(t, `{"v":2}`, string(got[0].Payload))
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.SaveShape(storage.Record{ID: 1, Kind: core.KindPolygon, Payload: json.RawMessage(`{}`)}))

	require.NoError(t, b.DeleteShape(1))
	assert.ErrorIs(t, b.DeleteShape(1), storage.ErrNotFound)

	got, err := b.LoadShapes()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoad_SkipsUnknownKind(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.DB().Create(&Shape{ID: 9, Kind: "hexagon", Payload: []byte(`{}`)}).Error)
	require.NoError(t, b.SaveShape(storage.Record{ID: 1, Kind: core.KindMarker, Payload: json.RawMessage(`{}`)}))

	got, err := b.LoadShapes()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
}
