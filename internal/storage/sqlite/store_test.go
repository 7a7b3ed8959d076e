package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/faction-ambush/internal/snapshot"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "hate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestLoadEmpty(t *testing.T) {
	store := openTestStore(t)
	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, data.RecordCount())
	assert.NotNil(t, data.Players)
}

func TestSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 10, 31, 20, 0, 0, 0, time.UTC)

	data := types.NewSnapshotData()
	data.SavedAt = start.Add(time.Minute)
	data.Players[42] = map[types.FactionID]*types.HateRecord{
		"bandits": {Hate: 120.5, LastCombatStart: start, LastAmbush: start.Add(-time.Hour)},
		"undead":  {Hate: 3},
	}
	data.Players[7] = map[types.FactionID]*types.HateRecord{
		"militia": {Hate: 0.25, LastCombatEnd: start},
	}
	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RecordCount())
	assert.Equal(t, 1, loaded.SchemaVer)
	assert.True(t, data.SavedAt.Equal(loaded.SavedAt))

	bandits := loaded.Players[42]["bandits"]
	require.NotNil(t, bandits)
	assert.Equal(t, 120.5, bandits.Hate)
	assert.True(t, start.Equal(bandits.LastCombatStart))
	assert.True(t, bandits.LastCombatEnd.IsZero())
	assert.True(t, start.Add(-time.Hour).Equal(bandits.LastAmbush))

	assert.True(t, start.Equal(loaded.Players[7]["militia"].LastCombatEnd))
}

func TestSaveReplacesPreviousTable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := types.NewSnapshotData()
	first.Players[1] = map[types.FactionID]*types.HateRecord{"bandits": {Hate: 10}}
	require.NoError(t, store.Save(ctx, first))

	second := types.NewSnapshotData()
	second.Players[2] = map[types.FactionID]*types.HateRecord{"undead": {Hate: 20}}
	require.NoError(t, store.Save(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.RecordCount())
	assert.NotContains(t, loaded.Players, types.PlayerID(1))
	assert.Equal(t, 20.0, loaded.Players[2]["undead"].Hate)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hate.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	data := types.NewSnapshotData()
	data.Players[9] = map[types.FactionID]*types.HateRecord{"bandits": {Hate: 77}}
	require.NoError(t, store.Save(ctx, data))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 77.0, loaded.Players[9]["bandits"].Hate)
}

func TestClosedStore(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save(context.Background(), types.NewSnapshotData()), ErrNotConfigured)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Close())
}

func TestCancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, types.NewSnapshotData()), context.Canceled)
}

func TestLoadRejectsOtherSchemaVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	data := types.NewSnapshotData()
	data.Players[4] = map[types.FactionID]*types.HateRecord{"bandits": {Hate: 15}}
	require.NoError(t, store.Save(ctx, data))
	_, err := store.sqlDB.ExecContext(ctx, `UPDATE snapshot_meta SET schema_ver = 99 WHERE id = 1`)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, snapshot.ErrIncompatibleVersion)
}
