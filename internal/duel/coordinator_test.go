package duel

import (
	"errors"
	"testing"

	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/internal/sim"
	"github.com/ChuLiYu/faction-ambush/internal/spawn"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const challengerTemplate types.PrefabID = 5001

type harness struct {
	world    *sim.World
	facade   *spawn.Facade
	pump     *spawn.Pump
	channel  *spawn.LifetimeChannel
	registry *correlation.Registry
	coord    *Coordinator
	cfg      config.DuelSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default().Duel
	world := sim.NewWorld(sim.Options{ArenaTemplate: cfg.ArenaTemplate, ArenaRadius: 20, Seed: 3})
	registry := correlation.NewRegistry()
	channel := spawn.NewLifetimeChannel(world, registry.Base())
	facade := spawn.NewFacade(registry, channel, world)
	return &harness{
		world:    world,
		facade:   facade,
		pump:     spawn.NewPump(registry, channel, world),
		channel:  channel,
		registry: registry,
		coord:    NewCoordinator(world, facade, cfg),
		cfg:      cfg,
	}
}

// tick materializes queued spawns and resolves their markers
func (h *harness) tick() {
	h.world.Step()
	h.pump.Run()
}

func (h *harness) summon(player types.Entity, maxParticipants, allowance int) bool {
	pos, _ := h.world.Position(player)
	return h.coord.TrySummonForPlayer(SummonRequest{
		Player:                player,
		Challenger:            challengerTemplate,
		Center:                pos,
		ChallengerPos:         pos.Add(types.Vec3{Z: 5}),
		MaxParticipants:       maxParticipants,
		SupplementalAllowance: allowance,
	})
}

type countingObserver struct {
	started, ended, active int
}

func (o *countingObserver) DuelStarted(int64) { o.started++ }
func (o *countingObserver) DuelEnded(int64)   { o.ended++ }
func (o *countingObserver) ActiveDuels(n int) { o.active = n }

func TestSummonRegistersDuel(t *testing.T) {
	h := newHarness(t)
	obs := &countingObserver{}
	h.coord.SetObserver(obs)
	player := h.world.AddPlayer(1, types.Vec3{})

	require.True(t, h.summon(player, 4, 0))
	assert.Empty(t, h.coord.ActiveDuels(), "nothing exists before the host ticks")

	h.tick()

	duels := h.coord.ActiveDuels()
	require.Len(t, duels, 1)
	st := duels[0]
	assert.NotZero(t, st.ID)
	assert.Equal(t, player, st.Summoner)
	require.Len(t, st.Challengers, 1)

	var challenger types.Entity
	for ch := range st.Challengers {
		challenger = ch
	}
	id, _ := h.world.DuelID(challenger)
	assert.Equal(t, st.ID, id, "challenger carries the arena's duel id")

	buff, ok := h.world.FindBuff(player, h.cfg.ConnectionBuff)
	require.True(t, ok)
	obj, _ := h.world.Get(buff)
	assert.Equal(t, challenger, obj.Owner)

	// markers no longer sit in the lifetime component
	_, hasLifetime := h.world.Lifetime(challenger)
	assert.False(t, hasLifetime)
	_, hasLifetime = h.world.Lifetime(st.Arena)
	assert.False(t, hasLifetime)

	assert.True(t, st.InCombat[player])
	assert.True(t, st.InCombat[challenger])
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 1, obs.active)
}

func TestSummonRefusesNonPlayer(t *testing.T) {
	h := newHarness(t)
	unit := h.world.AddUnit(9, types.Vec3{})

	assert.False(t, h.summon(unit, 2, 0))
	assert.False(t, h.summon(types.Entity(999), 2, 0))
	assert.Empty(t, h.world.Queued())
	assert.Equal(t, 0, h.registry.Pending())
}

func TestSummonSubmitFailureCancels(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	h.world.SpawnErr = errors.New("host not ready")

	assert.False(t, h.summon(player, 2, 0))
	assert.Equal(t, 0, h.registry.Pending())
}

// challengerFailingSpawner rejects every request after the first
type challengerFailingSpawner struct {
	inner     *spawn.Facade
	calls     int
	cancelled []correlation.Marker
}

func (s *challengerFailingSpawner) SpawnUnit(req types.SpawnRequest, ctx any, cb correlation.Callback) (correlation.Marker, error) {
	s.calls++
	if s.calls > 1 {
		return 0, errors.New("challenger rejected")
	}
	return s.inner.SpawnUnit(req, ctx, cb)
}

func (s *challengerFailingSpawner) Cancel(m correlation.Marker) bool {
	s.cancelled = append(s.cancelled, m)
	return s.inner.Cancel(m)
}

func TestSummonPartialFailureUnwinds(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	sp := &challengerFailingSpawner{inner: h.facade}
	coord := NewCoordinator(h.world, sp, h.cfg)

	ok := coord.TrySummonForPlayer(SummonRequest{Player: player, Challenger: challengerTemplate, MaxParticipants: 2})
	assert.False(t, ok)
	assert.Len(t, sp.cancelled, 1)
	assert.Equal(t, 0, h.registry.Pending(), "arena registration was cancelled")

	// the arena request is still materialized by the host but finds no callback
	h.tick()
	assert.Empty(t, coord.ActiveDuels())
}

func TestBarrierOrderIndependence(t *testing.T) {
	run := func(reverse bool) []State {
		h := newHarness(t)
		player := h.world.AddPlayer(1, types.Vec3{})
		h.world.AddPlayer(2, types.Vec3{X: 3})
		require.True(t, h.summon(player, 4, 0))

		created := h.world.Step()
		_, _ = h.world.NewlySpawned()
		require.Len(t, created, 2)
		if reverse {
			created[0], created[1] = created[1], created[0]
		}
		for _, e := range created {
			m, ok := h.channel.Decode(e)
			require.True(t, ok)
			assert.True(t, h.registry.TryComplete(m, e))
		}
		return h.coord.ActiveDuels()
	}

	forward := run(false)
	reversed := run(true)
	require.Len(t, forward, 1)
	assert.Equal(t, forward, reversed)
}

func TestInviteClosestPlayers(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	far := h.world.AddPlayer(2, types.Vec3{X: 9})
	near := h.world.AddPlayer(3, types.Vec3{X: 2})
	outside := h.world.AddPlayer(4, types.Vec3{X: 500})

	require.True(t, h.summon(player, 2, 0))
	h.tick()

	duels := h.coord.ActiveDuels()
	require.Len(t, duels, 1)
	st := duels[0]
	assert.Contains(t, st.Participants, near)
	assert.NotContains(t, st.Participants, far, "over the limit and no allowance")
	assert.NotContains(t, st.Participants, outside)

	_, ok := h.world.FindBuff(near, h.cfg.ConnectionBuff)
	assert.True(t, ok)
	_, ok = h.world.FindBuff(far, h.cfg.ConnectionBuff)
	assert.False(t, ok)
}

func TestOverflowChunking(t *testing.T) {
	tests := []struct {
		name      string
		allowance int
		wantDuels int
	}{
		{"no allowance", 0, 1},
		{"one supplemental", 1, 2},
		{"both groups", 2, 3},
		{"allowance beyond groups", 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			player := h.world.AddPlayer(1, types.Vec3{})
			var others []types.Entity
			for i := 0; i < 5; i++ {
				others = append(others, h.world.AddPlayer(types.PlayerID(10+i), types.Vec3{X: float64(i + 1)}))
			}

			require.True(t, h.summon(player, 2, tt.allowance))
			h.tick()

			primary := h.coord.ActiveDuels()
			require.Len(t, primary, 1)
			assert.Len(t, primary[0].Participants, 3, "summoner, one invitee, challenger")
			assert.Contains(t, primary[0].Participants, others[0])

			// supplemental duels materialize on the following tick
			h.tick()
			duels := h.coord.ActiveDuels()
			assert.Len(t, duels, tt.wantDuels)

			for _, st := range duels[1:] {
				players := 0
				for e := range st.Participants {
					if h.world.IsPlayer(e) {
						players++
					}
				}
				assert.LessOrEqual(t, players, 2)
			}
		})
	}
}

func TestSupplementalPlacement(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	anchor := h.world.AddPlayer(3, types.Vec3{X: 2})

	require.True(t, h.summon(player, 1, 1))
	h.tick()

	queued := h.world.Queued()
	require.Len(t, queued, 2)
	// forward is +Z from the challenger offset
	wantCenter := types.Vec3{X: 2, Z: h.cfg.SupplementalSpacing}
	assert.Equal(t, wantCenter, queued[0].Position)
	assert.Equal(t, wantCenter.Add(types.Vec3{Z: 5}), queued[1].Position)

	h.tick()
	id, ok := h.coord.DuelOf(anchor)
	require.True(t, ok)
	st, ok := h.coord.Duel(id)
	require.True(t, ok)
	assert.Equal(t, anchor, st.Summoner)
}

func TestTeardownDestroysArenaOnce(t *testing.T) {
	h := newHarness(t)
	obs := &countingObserver{}
	h.coord.SetObserver(obs)
	player := h.world.AddPlayer(1, types.Vec3{})
	require.True(t, h.summon(player, 1, 0))
	h.tick()

	duels := h.coord.ActiveDuels()
	require.Len(t, duels, 1)
	st := duels[0]

	var challenger types.Entity
	for ch := range st.Challengers {
		challenger = ch
	}

	h.coord.UpdateCombatState(player, false)
	assert.Len(t, h.coord.ActiveDuels(), 1, "challenger still fighting")

	h.coord.UpdateCombatState(challenger, false)
	assert.Empty(t, h.coord.ActiveDuels())

	// late notifications for former participants are ignored
	h.coord.UpdateCombatState(player, false)
	h.coord.UpdateCombatState(challenger, false)

	destroyed := 0
	for _, e := range h.world.Destroyed() {
		if e == st.Arena {
			destroyed++
		}
	}
	assert.Equal(t, 1, destroyed)
	assert.False(t, h.world.Exists(st.Arena))

	id, _ := h.world.DuelID(challenger)
	assert.Zero(t, id)
	_, ok := h.coord.DuelOf(player)
	assert.False(t, ok)
	assert.Equal(t, 1, obs.ended)
	assert.Equal(t, 0, obs.active)
}

func TestCombatReentryKeepsDuel(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	require.True(t, h.summon(player, 1, 0))
	h.tick()

	st := h.coord.ActiveDuels()[0]
	var challenger types.Entity
	for ch := range st.Challengers {
		challenger = ch
	}

	h.coord.UpdateCombatState(player, false)
	h.coord.UpdateCombatState(player, true)
	h.coord.UpdateCombatState(challenger, false)
	assert.Len(t, h.coord.ActiveDuels(), 1)
}

func TestUnknownParticipantIgnored(t *testing.T) {
	h := newHarness(t)
	h.coord.UpdateCombatState(types.Entity(42), false)
	assert.Empty(t, h.coord.ActiveDuels())
	assert.Empty(t, h.world.Destroyed())
}

func TestEndDuel(t *testing.T) {
	h := newHarness(t)
	player := h.world.AddPlayer(1, types.Vec3{})
	require.True(t, h.summon(player, 1, 0))
	h.tick()

	id, ok := h.coord.DuelOf(player)
	require.True(t, ok)
	assert.True(t, h.coord.EndDuel(id))
	assert.False(t, h.coord.EndDuel(id))
	assert.Empty(t, h.coord.ActiveDuels())
}

func TestArenaWithoutDuelIDIsNotRegistered(t *testing.T) {
	h := newHarness(t)
	h.world.SkipArenaDuelID = true
	player := h.world.AddPlayer(1, types.Vec3{})

	require.True(t, h.summon(player, 2, 0))
	spawned := h.world.Step()
	h.pump.Run()
	assert.Empty(t, h.coord.ActiveDuels())

	// arena and challenger are removed instead of lingering unowned
	require.Len(t, spawned, 2)
	for _, e := range spawned {
		assert.False(t, h.world.Exists(e))
	}
	assert.ElementsMatch(t, spawned, h.world.Destroyed())
}
