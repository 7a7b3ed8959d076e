package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

func TestSpawnAppearsOnNextStep(t *testing.T) {
	w := NewWorld(Options{})

	require.NoError(t, w.SpawnUnit(types.SpawnRequest{Template: 7, Count: 3, Lifetime: -4}))
	fresh, err := w.NewlySpawned()
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Len(t, w.Queued(), 1)

	w.Step()
	fresh, err = w.NewlySpawned()
	require.NoError(t, err)
	require.Len(t, fresh, 3)
	for _, e := range fresh {
		lt, ok := w.Lifetime(e)
		assert.True(t, ok)
		assert.Equal(t, -4.0, lt)
	}

	// drained once
	fresh, err = w.NewlySpawned()
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestArenaGetsDuelIDAndRadius(t *testing.T) {
	w := NewWorld(Options{ArenaTemplate: 900})
	require.NoError(t, w.SpawnUnit(types.SpawnRequest{Template: 900, Count: 2}))
	w.Step()
	fresh, _ := w.NewlySpawned()
	require.Len(t, fresh, 2)

	id1, _ := w.DuelID(fresh[0])
	id2, _ := w.DuelID(fresh[1])
	assert.NotZero(t, id1)
	assert.NotEqual(t, id1, id2)
	r, ok := w.AreaRadius(fresh[0])
	assert.True(t, ok)
	assert.Equal(t, 20.0, r)

	w.SkipArenaDuelID = true
	require.NoError(t, w.SpawnUnit(types.SpawnRequest{Template: 900, Count: 1}))
	w.Step()
	fresh, _ = w.NewlySpawned()
	id, _ := w.DuelID(fresh[0])
	assert.Zero(t, id)
}

func TestScatterStaysInRange(t *testing.T) {
	w := NewWorld(Options{Seed: 3})
	center := types.Vec3{X: 10, Y: 2, Z: -5}
	require.NoError(t, w.SpawnUnit(types.SpawnRequest{Template: 1, Count: 50, Position: center, MinRange: 5, MaxRange: 9}))
	w.Step()
	fresh, _ := w.NewlySpawned()
	for _, e := range fresh {
		pos, _ := w.Position(e)
		d := pos.DistanceTo(center)
		assert.GreaterOrEqual(t, d, 5.0-1e-9)
		assert.LessOrEqual(t, d, 9.0+1e-9)
	}
}

func TestInjectedErrors(t *testing.T) {
	w := NewWorld(Options{})
	boom := errors.New("boom")

	w.SpawnErr = boom
	assert.ErrorIs(t, w.SpawnUnit(types.SpawnRequest{Template: 1, Count: 1}), boom)

	w.QueryErr = boom
	_, err := w.NewlySpawned()
	assert.ErrorIs(t, err, boom)
}

func TestBuffsAndDestroy(t *testing.T) {
	w := NewWorld(Options{})
	p := w.AddPlayer(4, types.Vec3{})

	b1, err := w.ApplyBuff(p, 55)
	require.NoError(t, err)
	b2, err := w.ApplyBuff(p, 55)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	found, ok := w.FindBuff(p, 55)
	assert.True(t, ok)
	assert.Equal(t, b1, found)

	w.DestroyEntity(p)
	assert.False(t, w.Exists(p))
	assert.False(t, w.Exists(b1))
	assert.Equal(t, []types.Entity{p}, w.Destroyed())

	_, err = w.ApplyBuff(p, 55)
	assert.ErrorIs(t, err, ErrNoEntity)
}

func TestQueriesAndTerritory(t *testing.T) {
	w := NewWorld(Options{})
	p := w.AddPlayer(9, types.Vec3{X: 1})
	u := w.AddUnit(3, types.Vec3{X: 2})
	w.AddUnit(3, types.Vec3{X: 100})

	assert.Equal(t, []types.Entity{p}, w.PlayersWithin(types.Vec3{}, 5))
	assert.Equal(t, []types.Entity{u}, w.UnitsWithin(types.Vec3{}, 5))

	id, ok := w.PlayerOf(p)
	assert.True(t, ok)
	assert.Equal(t, types.PlayerID(9), id)
	_, ok = w.PlayerOf(u)
	assert.False(t, ok)

	w.AddTerritory(9, types.Vec3{}, 10)
	assert.True(t, w.InOwnTerritory(9, types.Vec3{X: 3, Y: 50}))
	assert.False(t, w.InOwnTerritory(9, types.Vec3{X: 30}))
	assert.False(t, w.InOwnTerritory(8, types.Vec3{}))
}

func TestLifetimeAndStats(t *testing.T) {
	w := NewWorld(Options{})
	u := w.AddUnit(1, types.Vec3{})

	require.NoError(t, w.SetLifetime(u, 30))
	lt, ok := w.Lifetime(u)
	assert.True(t, ok)
	assert.Equal(t, 30.0, lt)

	require.NoError(t, w.SetLifetime(u, 0))
	_, ok = w.Lifetime(u)
	assert.False(t, ok)

	m := types.Identity()
	m.Health = 2
	require.NoError(t, w.ApplyStats(u, m))
	require.NoError(t, w.ApplyStats(u, m))
	obj, _ := w.Get(u)
	assert.Equal(t, 4.0, obj.Stats.Health)

	require.NoError(t, w.DisableFeedCharm(u))
	require.NoError(t, w.SetVisualBuff(u, 77))
	obj, _ = w.Get(u)
	assert.True(t, obj.FeedCharmDisabled)
	assert.Equal(t, types.PrefabID(77), obj.VisualBuff)
}
