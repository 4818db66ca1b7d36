package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goodtune/mcledger/internal/storage"
	"github.com/goodtune/mcledger/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTestStore(t)
	})
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), func(tx storage.Tx) error {
		return tx.PutPlayer(context.Background(), storage.Player{ID: "p1", Name: "Steve", TotalSeconds: 60})
	}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version))
	assert.Equal(t, len(getMigrations()), version)

	var total int64
	require.NoError(t, store.db.QueryRow("SELECT total_play_time FROM players WHERE id = 'p1'").Scan(&total))
	assert.EqualValues(t, 60, total)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assert.FileExists(t, path)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestSessionDayRequiresPlayer(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	err := store.Update(context.Background(), func(tx storage.Tx) error {
		return tx.PutSessionDay(context.Background(), storage.SessionDay{PlayerID: "ghost", Date: "2024-01-01", Seconds: 60})
	})
	assert.Error(t, err, "foreign key should reject a session day for an unknown player")
}

func TestDSN(t *testing.T) {
	tests := map[string]string{
		":memory:":                    ":memory:",
		"/var/lib/mcledger/ledger.db": "file:/var/lib/mcledger/ledger.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		"file:x.db":                   "file:x.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		"file:x.db?mode=ro":           "file:x.db?mode=ro&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		"x.db?_txlock=deferred":       "file:x.db?_txlock=deferred&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		"x.db?_pragma=busy_timeout(100)&_pragma=foreign_keys(0)": "file:x.db?_pragma=busy_timeout(100)&_pragma=foreign_keys(0)&_txlock=immediate",
	}
	for in, want := range tests {
		assert.Equal(t, want, dsn(in), in)
	}
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "", FilePath(":memory:"))
	assert.Equal(t, "", FilePath("file::memory:?cache=shared"))
	assert.Equal(t, "x.db", FilePath("file:x.db?mode=ro"))
	assert.Equal(t, "/srv/ledger.db", FilePath("/srv/ledger.db"))
}

func TestOpen_FileDSNKeepsForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := Open("file:" + path + "?cache=private")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assert.FileExists(t, path)

	err = store.Update(context.Background(), func(tx storage.Tx) error {
		return tx.PutSessionDay(context.Background(), storage.SessionDay{PlayerID: "ghost", Date: "2024-01-01", Seconds: 60})
	})
	assert.Error(t, err)

	var timeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
