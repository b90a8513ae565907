package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./spacefeed.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./spacefeed.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := buildLibsqlDSN(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: driverPostgres}
	require.Equal(t,
		"SELECT * FROM datasets WHERE title LIKE $1 OR organism LIKE $2 LIMIT $3",
		pg.rebind("SELECT * FROM datasets WHERE title LIKE ? OR organism LIKE ? LIMIT ?"))

	lite := &Store{driver: driverLibsql}
	require.Equal(t, "SELECT ? , ?", lite.rebind("SELECT ? , ?"))
}

func TestSearchClause(t *testing.T) {
	where, args := searchClause("  ")
	require.Empty(t, where)
	require.Empty(t, args)

	where, args = searchClause("Mus_50%")
	require.Contains(t, where, "LOWER(dataset_id) LIKE ?")
	require.Equal(t, []any{`%mus\_50\%%`, `%mus\_50\%%`, `%mus\_50\%%`}, args)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StoreConfig{Driver: "postgres"})
	require.Error(t, err)
}

func TestNilStore(t *testing.T) {
	var s *Store
	_, err := s.Insert(context.Background(), "iss", []byte(`{}`), time.Time{})
	require.Error(t, err)
	require.NoError(t, s.Close())
	require.Empty(t, s.Driver())
}
