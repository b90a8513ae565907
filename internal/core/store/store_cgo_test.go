//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/core"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func openMigrated(t *testing.T) (*Store, *stepClock) {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
	return store, clock
}

func TestSnapshotsInsertAndLatest(t *testing.T) {
	ctx := context.Background()
	store, clock := openMigrated(t)

	_, err := store.Latest(ctx, core.SourceISS)
	require.ErrorIs(t, err, ErrNotFound)

	first, err := store.Insert(ctx, core.SourceISS, []byte(`{"latitude":1}`), time.Time{})
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)
	second, err := store.Insert(ctx, core.SourceISS, []byte(`{"latitude":2}`), time.Time{})
	require.NoError(t, err)
	require.Greater(t, second, first)

	_, err = store.Insert(ctx, core.SourceAPOD, []byte(`{"title":"x"}`), time.Time{})
	require.NoError(t, err)

	latest, err := store.Latest(ctx, core.SourceISS)
	require.NoError(t, err)
	require.Equal(t, second, latest.ID)
	require.JSONEq(t, `{"latitude":2}`, string(latest.Payload))
	require.Equal(t, clock.now, latest.FetchedAt)

	_, err = store.Insert(ctx, core.SourceISS, []byte(`not json`), time.Time{})
	require.Error(t, err)
}

func TestSnapshotsInsertKeepsFetchTime(t *testing.T) {
	ctx := context.Background()
	store, clock := openMigrated(t)

	fetchedAt := clock.now.Add(-90 * time.Second)
	_, err := store.Insert(ctx, core.SourceAPOD, []byte(`{"title":"x"}`), fetchedAt)
	require.NoError(t, err)

	latest, err := store.Latest(ctx, core.SourceAPOD)
	require.NoError(t, err)
	require.Equal(t, fetchedAt.UTC().Truncate(time.Millisecond), latest.FetchedAt)
	require.NotEqual(t, clock.now, latest.FetchedAt)
}

func TestSnapshotsListRecentAndPrune(t *testing.T) {
	ctx := context.Background()
	store, clock := openMigrated(t)

	start := clock.now
	for i := 0; i < 4; i++ {
		clock.now = start.Add(time.Duration(i) * 24 * time.Hour)
		_, err := store.Insert(ctx, core.SourceNEO, []byte(`[]`), time.Time{})
		require.NoError(t, err)
	}

	recent, err := store.ListRecent(ctx, core.SourceNEO, start.Add(36*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.True(t, recent[0].FetchedAt.Before(recent[1].FetchedAt))

	listed, err := store.ListSnapshots(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.True(t, listed[0].FetchedAt.After(listed[1].FetchedAt))

	removed, err := store.Prune(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = store.Prune(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestDatasetsUpsertLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _ := openMigrated(t)

	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := store.Upsert(ctx, core.DatasetRecord{
		DatasetID: "OSD-1",
		Title:     "Rodent Research",
		Organism:  "Mus musculus",
		UpdatedAt: &updated,
		Raw:       json.RawMessage(`{"id":"OSD-1"}`),
	})
	require.NoError(t, err)

	again, err := store.Upsert(ctx, core.DatasetRecord{
		DatasetID: "OSD-1",
		Title:     "Rodent Research 2",
		Raw:       json.RawMessage(`{"id":"OSD-1","v":2}`),
	})
	require.NoError(t, err)
	require.Equal(t, id, again)

	records, err := store.ListDatasets(ctx, DatasetQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Rodent Research 2", records[0].Title)
	require.Empty(t, records[0].Organism)
	require.Nil(t, records[0].UpdatedAt)
	require.JSONEq(t, `{"id":"OSD-1","v":2}`, string(records[0].Raw))

	_, err = store.Upsert(ctx, core.DatasetRecord{Title: "no id"})
	require.Error(t, err)
}

func TestDatasetsListSearchAndOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := openMigrated(t)

	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []core.DatasetRecord{
		{DatasetID: "OSD-10", Title: "Plant growth", Organism: "Arabidopsis thaliana"},
		{DatasetID: "OSD-11", Title: "Mouse liver", Organism: "Mus musculus", UpdatedAt: &older},
		{DatasetID: "OSD-12", Title: "Mouse muscle", Organism: "Mus musculus", UpdatedAt: &newer},
	} {
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	all, err := store.ListDatasets(ctx, DatasetQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "OSD-12", all[0].DatasetID)
	require.Equal(t, "OSD-11", all[1].DatasetID)
	require.Equal(t, "OSD-10", all[2].DatasetID)

	mice, err := store.ListDatasets(ctx, DatasetQuery{Limit: 10, Search: "MUS"})
	require.NoError(t, err)
	require.Len(t, mice, 2)

	count, err := store.CountDatasets(ctx, "mus")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	byID, err := store.CountDatasets(ctx, "osd-10")
	require.NoError(t, err)
	require.Equal(t, int64(1), byID)

	page, err := store.ListDatasets(ctx, DatasetQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "OSD-11", page[0].DatasetID)
}
