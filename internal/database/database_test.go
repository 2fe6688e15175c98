package database

import (
	"path/filepath"
	"testing"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN() string {
	return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
}

func TestDSN(t *testing.T) {
	got := DSN(config.DBConfig{Host: "db", Port: "5433", Username: "u", Password: "p", Database: "maps"})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=maps sslmode=disable", got)
}

func TestOpenSqlite_Memory(t *testing.T) {
	db, err := OpenSqlite(memoryDSN())
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestOpenSqlite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	db, err := OpenSqlite(path)
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
	assert.FileExists(t, path)
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSqlite(memoryDSN())
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
	require.NoError(t, db.Exec("INSERT INTO t (id) VALUES (7)").Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	_, err = DumpMemoryDBToDisk(db, path)
	require.NoError(t, err)

	// A second dump replaces the first.
	_, err = DumpMemoryDBToDisk(db, path)
	require.NoError(t, err)

	disk, err := OpenSqlite(path)
	require.NoError(t, err)
	var id int
	require.NoError(t, disk.Raw("SELECT id FROM t").Scan(&id).Error)
	assert.Equal(t, 7, id)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	db, err := OpenSqlite(memoryDSN())
	require.NoError(t, err)
	_, err = DumpMemoryDBToDisk(db, "")
	assert.Error(t, err)
}

func TestManager_FallsBackToSqlite(t *testing.T) {
	cfg := config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d"}
	m := NewManager(zerolog.Nop(), cfg, memoryDSN())

	require.NoError(t, m.Connect())
	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)
	assert.Equal(t, "sqlite", m.DB.Dialector.Name())
	require.NotNil(t, m.SqlDB)
	assert.NoError(t, m.SqlDB.Ping())
}
