// ============================================================================
// Duel Lifecycle Coordinator
// ============================================================================
//
// Package: internal/duel
// File: coordinator.go
// Purpose: Summons an arena and a challenger, waits until both exist, wires
//          them together, invites nearby players and tears the duel down once
//          every participant has left combat.
//
// Summon flow:
//   TrySummonForPlayer
//     ├── spawn arena       ─┐
//     └── spawn challenger  ─┴─> barrier(2) ──> finalize (exactly once)
//
// finalize:
//   0. clear the marker from both lifetimes; no duel id destroys both
//   1. copy the arena's host-assigned duel id onto the challenger
//   2. read the arena radius (host default if absent)
//   3. connection buff on the summoner, owned by the challenger
//   4. invite the closest MaxParticipants-1 players
//   5. overflow -> supplemental duels, one allowance unit per recursion
//   6. register the duel, every participant in combat
//
// ============================================================================

package duel

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// defaultForward is used when the summon geometry gives no usable direction
var defaultForward = types.Vec3{Z: 1}

// Host is the entity API the coordinator needs
type Host interface {
	Exists(e types.Entity) bool
	IsPlayer(e types.Entity) bool
	Position(e types.Entity) (types.Vec3, bool)
	DuelID(e types.Entity) (int64, bool)
	SetDuelID(e types.Entity, id int64) error
	AreaRadius(e types.Entity) (float64, bool)
	FindBuff(target types.Entity, buff types.PrefabID) (types.Entity, bool)
	ApplyBuff(target types.Entity, buff types.PrefabID) (types.Entity, error)
	SetBuffOwner(buff, owner types.Entity) error
	PlayersWithin(center types.Vec3, radius float64) []types.Entity
	UnitsWithin(center types.Vec3, radius float64) []types.Entity
	DestroyEntity(e types.Entity)
	SetLifetime(e types.Entity, seconds float64) error
}

// Spawner submits correlated spawn requests (spawn.Facade)
type Spawner interface {
	SpawnUnit(req types.SpawnRequest, ctx any, cb correlation.Callback) (correlation.Marker, error)
	Cancel(marker correlation.Marker) bool
}

// Observer receives duel lifecycle events
type Observer interface {
	DuelStarted(id int64)
	DuelEnded(id int64)
	ActiveDuels(n int)
}

// SummonRequest describes one duel summon
type SummonRequest struct {
	Player                types.Entity
	Challenger            types.PrefabID
	Center                types.Vec3
	ChallengerPos         types.Vec3
	MaxParticipants       int
	SupplementalAllowance int
	// Participants, when non-nil, replaces the spatial scan for invitees
	Participants []types.Entity
	// Forward overrides the center->challenger direction used to place
	// supplemental duels
	Forward *types.Vec3
}

// State is one active duel
type State struct {
	ID           int64
	Arena        types.Entity
	Summoner     types.Entity
	Challengers  map[types.Entity]struct{}
	Participants map[types.Entity]struct{}
	InCombat     map[types.Entity]bool
}

func (s *State) clone() State {
	cp := State{
		ID:           s.ID,
		Arena:        s.Arena,
		Summoner:     s.Summoner,
		Challengers:  make(map[types.Entity]struct{}, len(s.Challengers)),
		Participants: make(map[types.Entity]struct{}, len(s.Participants)),
		InCombat:     make(map[types.Entity]bool, len(s.InCombat)),
	}
	for e := range s.Challengers {
		cp.Challengers[e] = struct{}{}
	}
	for e := range s.Participants {
		cp.Participants[e] = struct{}{}
	}
	for e, v := range s.InCombat {
		cp.InCombat[e] = v
	}
	return cp
}

// Coordinator owns the active-duel table and participant lookups
type Coordinator struct {
	host    Host
	spawner Spawner
	cfg     config.DuelSettings

	mu     sync.Mutex
	duels  map[int64]*State
	lookup map[types.Entity]int64
	obs    Observer
}

// NewCoordinator creates a coordinator
func NewCoordinator(host Host, spawner Spawner, cfg config.DuelSettings) *Coordinator {
	return &Coordinator{
		host:    host,
		spawner: spawner,
		cfg:     cfg,
		duels:   make(map[int64]*State),
		lookup:  make(map[types.Entity]int64),
	}
}

// SetObserver attaches an observer
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = o
}

// ---------------------------------------------------------------------------
// Barrier
// ---------------------------------------------------------------------------

const (
	roleArena      = "arena"
	roleChallenger = "challenger"
)

// barrier collects the arena and challenger handles; ready returns true to
// exactly one caller
type barrier struct {
	mu         sync.Mutex
	arena      types.Entity
	challenger types.Entity
	done       bool

	req     SummonRequest
	forward types.Vec3
}

func (b *barrier) arrive(role string, e types.Entity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch role {
	case roleArena:
		b.arena = e
	case roleChallenger:
		b.challenger = e
	}
	if b.done || b.arena == 0 || b.challenger == 0 {
		return false
	}
	b.done = true
	return true
}

// ---------------------------------------------------------------------------
// Summon
// ---------------------------------------------------------------------------

// TrySummonForPlayer requests an arena and a challenger for req.Player.
// Returns false without side effects if the player is invalid or a spawn
// submission fails.
func (c *Coordinator) TrySummonForPlayer(req SummonRequest) bool {
	if req.Player == 0 || !c.host.Exists(req.Player) || !c.host.IsPlayer(req.Player) {
		log.Warn("duel summon refused, not a player", "entity", req.Player)
		return false
	}
	if req.MaxParticipants < 1 {
		req.MaxParticipants = 1
	}
	if req.SupplementalAllowance < 0 {
		req.SupplementalAllowance = 0
	}

	raw := req.ChallengerPos.Sub(req.Center)
	if req.Forward != nil {
		raw = *req.Forward
	}
	b := &barrier{
		req:     req,
		forward: raw.Flat().Normalize(defaultForward),
	}

	cb := func(e types.Entity, _ correlation.Marker, ctx any) {
		role, _ := ctx.(string)
		if b.arrive(role, e) {
			c.finalize(b)
		}
	}

	arenaMarker, err := c.spawner.SpawnUnit(types.SpawnRequest{
		Template: c.cfg.ArenaTemplate,
		Position: req.Center,
		Count:    1,
	}, roleArena, cb)
	if err != nil {
		log.Warn("duel arena spawn failed", "player", req.Player, "error", err)
		return false
	}

	if _, err := c.spawner.SpawnUnit(types.SpawnRequest{
		Template: req.Challenger,
		Position: req.ChallengerPos,
		Count:    1,
	}, roleChallenger, cb); err != nil {
		c.spawner.Cancel(arenaMarker)
		log.Warn("duel challenger spawn failed", "player", req.Player, "template", req.Challenger, "error", err)
		return false
	}

	log.Debug("duel summon scheduled",
		"player", req.Player,
		"challenger", req.Challenger,
		"max_participants", req.MaxParticipants,
		"allowance", req.SupplementalAllowance)
	return true
}

// ---------------------------------------------------------------------------
// Finalize
// ---------------------------------------------------------------------------

func (c *Coordinator) finalize(b *barrier) {
	req := b.req
	arena, challenger := b.arena, b.challenger

	// the marker occupies the lifetime field until here; duels end by teardown
	for _, e := range []types.Entity{arena, challenger} {
		if err := c.host.SetLifetime(e, 0); err != nil {
			log.Warn("failed to clear duel entity lifetime", "entity", e, "error", err)
		}
	}

	// 1. duel id
	id, _ := c.host.DuelID(arena)
	if id == 0 {
		log.Warn("duel finalize skipped", "arena", arena, "reason", "arena has no duel id")
		c.host.DestroyEntity(challenger)
		c.host.DestroyEntity(arena)
		return
	}
	if cur, _ := c.host.DuelID(challenger); cur != id {
		if err := c.host.SetDuelID(challenger, id); err != nil {
			log.Warn("failed to stamp challenger duel id", "challenger", challenger, "duel", id, "error", err)
		}
	}

	// 2. radius
	radius, ok := c.host.AreaRadius(arena)
	if !ok || radius <= 0 {
		log.Debug("arena radius missing, using default", "arena", arena, "radius", c.cfg.DefaultRadius)
		radius = c.cfg.DefaultRadius
	}
	center := req.Center
	if pos, ok := c.host.Position(arena); ok {
		center = pos
	}

	// 3. summoner connection
	c.connect(req.Player, challenger)

	// 4. invitations
	candidates := c.candidates(req, center, radius)
	invite := req.MaxParticipants - 1
	if invite > len(candidates) {
		invite = len(candidates)
	}
	invited := candidates[:invite]
	overflow := candidates[invite:]
	for _, p := range invited {
		c.connect(p, challenger)
	}

	// 5. supplemental duels
	if len(overflow) > 0 {
		c.scheduleSupplemental(req, b.forward, overflow)
	}

	// 6. registration
	members := append([]types.Entity{req.Player}, invited...)
	c.register(id, arena, req.Player, challenger, members, center, radius)
}

// connect gives player the connection buff, owned by challenger
func (c *Coordinator) connect(player, challenger types.Entity) {
	buff, found := c.host.FindBuff(player, c.cfg.ConnectionBuff)
	if !found {
		var err error
		buff, err = c.host.ApplyBuff(player, c.cfg.ConnectionBuff)
		if err != nil {
			log.Warn("failed to apply duel connection", "player", player, "error", err)
			return
		}
	}
	if err := c.host.SetBuffOwner(buff, challenger); err != nil {
		log.Warn("failed to link duel connection", "player", player, "challenger", challenger, "error", err)
	}
}

// candidates returns invitable players sorted by distance from center
func (c *Coordinator) candidates(req SummonRequest, center types.Vec3, radius float64) []types.Entity {
	pool := req.Participants
	if pool == nil {
		pool = c.host.PlayersWithin(center, radius)
	}

	type candidate struct {
		e    types.Entity
		dist float64
	}
	var list []candidate
	seen := make(map[types.Entity]struct{}, len(pool))
	for _, e := range pool {
		if e == req.Player || !c.host.IsPlayer(e) {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		pos, ok := c.host.Position(e)
		if !ok {
			continue
		}
		list = append(list, candidate{e: e, dist: pos.DistanceTo(center)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].dist != list[j].dist {
			return list[i].dist < list[j].dist
		}
		return list[i].e < list[j].e
	})

	out := make([]types.Entity, len(list))
	for i, cand := range list {
		out[i] = cand.e
	}
	return out
}

// scheduleSupplemental chunks overflow into groups of MaxParticipants and
// summons one duel per group while allowance remains
func (c *Coordinator) scheduleSupplemental(req SummonRequest, forward types.Vec3, overflow []types.Entity) {
	remaining := req.SupplementalAllowance
	offset := req.ChallengerPos.Sub(req.Center)

	i := 0
	for ; i < len(overflow) && remaining > 0; i += req.MaxParticipants {
		end := i + req.MaxParticipants
		if end > len(overflow) {
			end = len(overflow)
		}
		group := overflow[i:end]

		anchor, ok := c.host.Position(group[0])
		if !ok {
			continue
		}
		remaining--
		newCenter := anchor.Add(forward.Scale(c.cfg.SupplementalSpacing))
		fwd := forward
		c.TrySummonForPlayer(SummonRequest{
			Player:                group[0],
			Challenger:            req.Challenger,
			Center:                newCenter,
			ChallengerPos:         newCenter.Add(offset),
			MaxParticipants:       req.MaxParticipants,
			SupplementalAllowance: remaining,
			Participants:          append([]types.Entity{}, group[1:]...),
			Forward:               &fwd,
		})
	}

	if i < len(overflow) {
		log.Info("duel overflow left unassigned",
			"summoner", req.Player,
			"players", len(overflow)-i)
	}
}

func (c *Coordinator) register(id int64, arena, summoner, challenger types.Entity, members []types.Entity, center types.Vec3, radius float64) {
	challengers := []types.Entity{challenger}
	for _, u := range c.host.UnitsWithin(center, radius) {
		if u == arena || u == challenger {
			continue
		}
		if uid, _ := c.host.DuelID(u); uid == id {
			challengers = append(challengers, u)
		}
	}

	c.mu.Lock()
	st, exists := c.duels[id]
	if !exists {
		st = &State{
			ID:           id,
			Arena:        arena,
			Summoner:     summoner,
			Challengers:  make(map[types.Entity]struct{}),
			Participants: make(map[types.Entity]struct{}),
			InCombat:     make(map[types.Entity]bool),
		}
		c.duels[id] = st
	}
	track := func(e types.Entity) {
		st.Participants[e] = struct{}{}
		st.InCombat[e] = true
		c.lookup[e] = id
	}
	for _, ch := range challengers {
		st.Challengers[ch] = struct{}{}
		track(ch)
	}
	for _, m := range members {
		track(m)
	}
	n := len(c.duels)
	obs := c.obs
	c.mu.Unlock()

	log.Info("duel started",
		"duel", id,
		"arena", arena,
		"summoner", summoner,
		"participants", len(members),
		"challengers", len(challengers))
	if obs != nil {
		if !exists {
			obs.DuelStarted(id)
		}
		obs.ActiveDuels(n)
	}
}

// ---------------------------------------------------------------------------
// Combat state and teardown
// ---------------------------------------------------------------------------

// UpdateCombatState records a participant entering or leaving combat and
// ends the duel once nobody is left in combat. Unknown entities are ignored.
func (c *Coordinator) UpdateCombatState(e types.Entity, inCombat bool) {
	c.mu.Lock()
	id, ok := c.lookup[e]
	if !ok {
		c.mu.Unlock()
		return
	}
	st := c.duels[id]
	st.InCombat[e] = inCombat
	for _, v := range st.InCombat {
		if v {
			c.mu.Unlock()
			return
		}
	}
	ended := c.removeLocked(id)
	c.mu.Unlock()

	c.teardown(ended)
}

// EndDuel forcibly ends a duel; false if id is not active
func (c *Coordinator) EndDuel(id int64) bool {
	c.mu.Lock()
	ended := c.removeLocked(id)
	c.mu.Unlock()
	if ended == nil {
		return false
	}
	c.teardown(ended)
	return true
}

func (c *Coordinator) removeLocked(id int64) *State {
	st, ok := c.duels[id]
	if !ok {
		return nil
	}
	delete(c.duels, id)
	for e := range st.Participants {
		if c.lookup[e] == id {
			delete(c.lookup, e)
		}
	}
	return st
}

func (c *Coordinator) teardown(st *State) {
	if st == nil {
		return
	}
	for ch := range st.Challengers {
		if c.host.Exists(ch) {
			if err := c.host.SetDuelID(ch, 0); err != nil {
				log.Warn("failed to reset challenger duel id", "challenger", ch, "error", err)
			}
		}
	}
	c.host.DestroyEntity(st.Arena)

	c.mu.Lock()
	n := len(c.duels)
	obs := c.obs
	c.mu.Unlock()

	log.Info("duel ended", "duel", st.ID, "arena", st.Arena)
	if obs != nil {
		obs.DuelEnded(st.ID)
		obs.ActiveDuels(n)
	}
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// ActiveDuels returns copies of every active duel ordered by id
func (c *Coordinator) ActiveDuels() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.duels))
	for _, st := range c.duels {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Duel returns a copy of one active duel
func (c *Coordinator) Duel(id int64) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.duels[id]
	if !ok {
		return State{}, false
	}
	return st.clone(), true
}

// DuelOf returns the duel id a participant belongs to
func (c *Coordinator) DuelOf(e types.Entity) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.lookup[e]
	return id, ok
}
