// ============================================================================
// In-memory host world
// ============================================================================
//
// Package: internal/sim
// File: world.go
// Purpose: A small entity store that behaves like the game host at the
//          boundaries the coordinator consumes. Used by `ambushd simulate`
//          and by package tests.
//
// Host behaviours reproduced:
//   - SpawnUnit only queues; entities appear on the next Step()
//   - the request's Lifetime value is copied onto every spawned entity
//   - arena templates get a fresh duel id and a default radius on creation
//   - NewlySpawned() returns entities created by the latest Step(), once
//
// ============================================================================

package sim

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var (
	// ErrNoEntity is returned when an operation targets a missing entity
	ErrNoEntity = errors.New("entity does not exist")
)

// Object is a read-only view of one entity's components
type Object struct {
	ID                types.Entity
	Template          types.PrefabID
	Position          types.Vec3
	Player            bool
	PlayerID          types.PlayerID
	Lifetime          float64
	HasLifetime       bool
	DuelID            int64
	Radius            float64
	HasRadius         bool
	Buffs             map[types.PrefabID]types.Entity
	Owner             types.Entity
	Stats             types.StatMultipliers
	FeedCharmDisabled bool
	VisualBuff        types.PrefabID
}

type territory struct {
	center types.Vec3
	radius float64
}

// Options configures host behaviour
type Options struct {
	ArenaTemplate types.PrefabID
	ArenaRadius   float64
	Seed          int64
}

// World is the in-memory host
type World struct {
	mu          sync.RWMutex
	opts        Options
	nextEntity  types.Entity
	nextDuelID  int64
	objects     map[types.Entity]*Object
	queued      []types.SpawnRequest
	fresh       []types.Entity
	destroyed   []types.Entity
	territories map[types.PlayerID][]territory
	rng         *rand.Rand

	// SpawnErr, when set, is returned by SpawnUnit
	SpawnErr error
	// QueryErr, when set, is returned by NewlySpawned
	QueryErr error
	// SkipArenaDuelID leaves arenas without a duel id
	SkipArenaDuelID bool
}

// NewWorld creates an empty world
func NewWorld(opts Options) *World {
	if opts.ArenaRadius <= 0 {
		opts.ArenaRadius = 20
	}
	return &World{
		opts:        opts,
		nextEntity:  1,
		nextDuelID:  1,
		objects:     make(map[types.Entity]*Object),
		territories: make(map[types.PlayerID][]territory),
		rng:         rand.New(rand.NewSource(opts.Seed)),
	}
}

func (w *World) create(obj Object) types.Entity {
	id := w.nextEntity
	w.nextEntity++
	obj.ID = id
	if obj.Buffs == nil {
		obj.Buffs = make(map[types.PrefabID]types.Entity)
	}
	if obj.Stats == (types.StatMultipliers{}) {
		obj.Stats = types.Identity()
	}
	w.objects[id] = &obj
	return id
}

// AddPlayer creates a player-controlled character
func (w *World) AddPlayer(player types.PlayerID, pos types.Vec3) types.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.create(Object{Player: true, PlayerID: player, Position: pos})
}

// AddUnit creates a non-player entity immediately (not through SpawnUnit)
func (w *World) AddUnit(template types.PrefabID, pos types.Vec3) types.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.create(Object{Template: template, Position: pos})
}

// AddTerritory claims a circular plot for player
func (w *World) AddTerritory(player types.PlayerID, center types.Vec3, radius float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.territories[player] = append(w.territories[player], territory{center: center, radius: radius})
}

// Move relocates an entity
func (w *World) Move(e types.Entity, pos types.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o, ok := w.objects[e]; ok {
		o.Position = pos
	}
}

// Get returns a copy of an entity's components
func (w *World) Get(e types.Entity) (Object, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok {
		return Object{}, false
	}
	cp := *o
	cp.Buffs = make(map[types.PrefabID]types.Entity, len(o.Buffs))
	for k, v := range o.Buffs {
		cp.Buffs[k] = v
	}
	return cp, true
}

// Count returns the number of live entities
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.objects)
}

// Queued returns the spawn requests waiting for the next Step
func (w *World) Queued() []types.SpawnRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]types.SpawnRequest(nil), w.queued...)
}

// Destroyed returns every entity destroyed so far, in order
func (w *World) Destroyed() []types.Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]types.Entity(nil), w.destroyed...)
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Step materializes every queued spawn request. Entities created here are
// reported by the next NewlySpawned call.
func (w *World) Step() []types.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()

	queued := w.queued
	w.queued = nil
	for _, req := range queued {
		for i := 0; i < req.Count; i++ {
			obj := Object{
				Template:    req.Template,
				Position:    w.scatter(req.Position, req.MinRange, req.MaxRange),
				Lifetime:    req.Lifetime,
				HasLifetime: true,
			}
			if w.opts.ArenaTemplate != 0 && req.Template == w.opts.ArenaTemplate {
				if !w.SkipArenaDuelID {
					obj.DuelID = w.nextDuelID
					w.nextDuelID++
				}
				obj.Radius = w.opts.ArenaRadius
				obj.HasRadius = true
			}
			w.fresh = append(w.fresh, w.create(obj))
		}
	}
	return append([]types.Entity(nil), w.fresh...)
}

func (w *World) scatter(center types.Vec3, minRange, maxRange float64) types.Vec3 {
	if maxRange <= 0 {
		return center
	}
	if maxRange < minRange {
		maxRange = minRange
	}
	angle := w.rng.Float64() * 2 * math.Pi
	dist := minRange + w.rng.Float64()*(maxRange-minRange)
	return types.Vec3{
		X: center.X + math.Cos(angle)*dist,
		Y: center.Y,
		Z: center.Z + math.Sin(angle)*dist,
	}
}

// ---------------------------------------------------------------------------
// Spawn boundary
// ---------------------------------------------------------------------------

// SpawnUnit queues a creation request
func (w *World) SpawnUnit(req types.SpawnRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SpawnErr != nil {
		return w.SpawnErr
	}
	w.queued = append(w.queued, req)
	return nil
}

// NewlySpawned drains the entities created by the latest Step
func (w *World) NewlySpawned() ([]types.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.QueryErr != nil {
		return nil, w.QueryErr
	}
	out := w.fresh
	w.fresh = nil
	return out, nil
}

// Lifetime reads the lifetime component
func (w *World) Lifetime(e types.Entity) (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok || !o.HasLifetime {
		return 0, false
	}
	return o.Lifetime, true
}

// ---------------------------------------------------------------------------
// Entity queries and mutation
// ---------------------------------------------------------------------------

func (w *World) Exists(e types.Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.objects[e]
	return ok
}

func (w *World) IsPlayer(e types.Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	return ok && o.Player
}

func (w *World) PlayerOf(e types.Entity) (types.PlayerID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok || !o.Player {
		return 0, false
	}
	return o.PlayerID, true
}

func (w *World) Position(e types.Entity) (types.Vec3, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok {
		return types.Vec3{}, false
	}
	return o.Position, true
}

func (w *World) DuelID(e types.Entity) (int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok {
		return 0, false
	}
	return o.DuelID, true
}

func (w *World) SetDuelID(e types.Entity, id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return ErrNoEntity
	}
	o.DuelID = id
	return nil
}

func (w *World) AreaRadius(e types.Entity) (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[e]
	if !ok || !o.HasRadius {
		return 0, false
	}
	return o.Radius, true
}

// FindBuff returns the buff entity of template buff attached to target
func (w *World) FindBuff(target types.Entity, buff types.PrefabID) (types.Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.objects[target]
	if !ok {
		return 0, false
	}
	b, ok := o.Buffs[buff]
	return b, ok
}

// ApplyBuff attaches a buff entity to target, reusing an existing one
func (w *World) ApplyBuff(target types.Entity, buff types.PrefabID) (types.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[target]
	if !ok {
		return 0, ErrNoEntity
	}
	if b, ok := o.Buffs[buff]; ok {
		return b, nil
	}
	b := w.create(Object{Template: buff, Position: o.Position})
	o.Buffs[buff] = b
	return b, nil
}

func (w *World) SetBuffOwner(buffEntity, owner types.Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[buffEntity]
	if !ok {
		return ErrNoEntity
	}
	o.Owner = owner
	return nil
}

// PlayersWithin returns player characters within radius of center, by id
func (w *World) PlayersWithin(center types.Vec3, radius float64) []types.Entity {
	return w.within(center, radius, func(o *Object) bool { return o.Player })
}

// UnitsWithin returns non-player entities within radius of center, by id
func (w *World) UnitsWithin(center types.Vec3, radius float64) []types.Entity {
	return w.within(center, radius, func(o *Object) bool { return !o.Player })
}

func (w *World) within(center types.Vec3, radius float64, keep func(*Object) bool) []types.Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []types.Entity
	for id, o := range w.objects {
		if keep(o) && o.Position.DistanceTo(center) <= radius {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DestroyEntity removes an entity and any buffs attached to it
func (w *World) DestroyEntity(e types.Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return
	}
	for _, b := range o.Buffs {
		delete(w.objects, b)
	}
	delete(w.objects, e)
	w.destroyed = append(w.destroyed, e)
}

// InOwnTerritory reports whether pos lies inside a plot claimed by player
func (w *World) InOwnTerritory(player types.PlayerID, pos types.Vec3) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, t := range w.territories[player] {
		if t.center.Flat().DistanceTo(pos.Flat()) <= t.radius {
			return true
		}
	}
	return false
}

// SetLifetime sets a real lifetime in seconds; 0 means never expire
func (w *World) SetLifetime(e types.Entity, seconds float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return ErrNoEntity
	}
	o.Lifetime = seconds
	o.HasLifetime = seconds > 0
	return nil
}

func (w *World) ApplyStats(e types.Entity, m types.StatMultipliers) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return ErrNoEntity
	}
	o.Stats = o.Stats.Mul(m)
	return nil
}

func (w *World) DisableFeedCharm(e types.Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return ErrNoEntity
	}
	o.FeedCharmDisabled = true
	return nil
}

// SetVisualBuff records the cosmetic buff chosen for a unit
func (w *World) SetVisualBuff(e types.Entity, buff types.PrefabID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[e]
	if !ok {
		return ErrNoEntity
	}
	o.VisualBuff = buff
	return nil
}
