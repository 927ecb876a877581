package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/internal/storage/storetest"
	"github.com/vmaliev/crypto/pkg/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "bot.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestSchemaCreated(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"signals", "trades", "sessions", "performance", "risk_metrics"} {
		assert.True(t, found[table], table)
	}
}

func TestReopenKeepsData(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.StoreSession(t.Context(), sessionFixture()))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.LatestSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "s1", latest.ID)
}

func sessionFixture() types.Session {
	return types.Session{ID: "s1", StartTime: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}
