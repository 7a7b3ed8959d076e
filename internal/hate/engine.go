// ============================================================================
// Hate/Ambush Engine
// ============================================================================
//
// Package: internal/hate
// File: engine.go
// Purpose: Per-(player, faction) hate table with gain, grace-gated decay and
//          a probability-gated ambush trigger on combat start.
//
// Record lifecycle:
//   created lazily on the first qualifying kill
//   RegisterHateGain  +base*GainMultiplier, clamp [0, MaximumHate]
//   Tick              -DecayPerSecond*elapsed once both combat stamps are
//                     older than CombatCooldown
//   OnCombatStart     per faction: hate >= MinimumAmbushHate and
//                     AmbushCooldown elapsed -> one roll; success stamps
//                     LastAmbush and spawns a composed squad
//   Prune             drops zero records before a save
//
// Concurrency:
//   The table is mutex-guarded. Spawn submission and host mutation happen
//   outside the lock; Snapshot deep-copies for the persistence pass.
//
// ============================================================================

package hate

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/faction-ambush/internal/catalog"
	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// Host is the entity API ambush squads are finalized through
type Host interface {
	Position(e types.Entity) (types.Vec3, bool)
	InOwnTerritory(player types.PlayerID, pos types.Vec3) bool
	SetLifetime(e types.Entity, seconds float64) error
	ApplyStats(e types.Entity, m types.StatMultipliers) error
	DisableFeedCharm(e types.Entity) error
	SetVisualBuff(e types.Entity, buff types.PrefabID) error
}

// Summoner submits correlated spawn requests (spawn.Facade)
type Summoner interface {
	SpawnUnit(req types.SpawnRequest, ctx any, cb correlation.Callback) (correlation.Marker, error)
}

// Catalog supplies the units for a faction at a tier
type Catalog interface {
	Units(faction types.FactionID, tier int) []catalog.Unit
}

// Observer receives engine events
type Observer interface {
	AmbushRolled(faction types.FactionID, success bool)
	AmbushTriggered(faction types.FactionID, units int)
	FollowUpDispatched(units int)
	HateRecords(n int)
}

// Victim describes a killed entity
type Victim struct {
	Faction     types.FactionID
	IsMinion    bool
	HasLevel    bool
	HasMovement bool
}

// Qualifies reports whether killing v counts: a real combat unit, not a
// minion or scenery
func (v Victim) Qualifies() bool {
	return v.Faction != "" && !v.IsMinion && v.HasLevel && v.HasMovement
}

// Deps are the engine's collaborators. Rand, Clock, Catalog and Tiers have
// defaults.
type Deps struct {
	Host     Host
	Summoner Summoner
	Catalog  Catalog
	Rand     Rand
	Clock    func() time.Time
	Tiers    TierFunc
}

type pendingWave struct {
	due       time.Time
	player    types.PlayerID
	character types.Entity
	faction   types.FactionID
	wave      FollowUpWave
}

// squadUnit is the spawn callback context for one squad entry
type squadUnit struct {
	player  types.PlayerID
	faction types.FactionID
	stats   types.StatMultipliers
}

// Engine owns the hate table
type Engine struct {
	cfg     config.Snapshot
	host    Host
	summon  Summoner
	catalog Catalog
	tiers   TierFunc
	clock   func() time.Time

	rngMu sync.Mutex
	rng   Rand

	mu       sync.Mutex
	records  map[types.PlayerID]map[types.FactionID]*types.HateRecord
	lastTick time.Time
	waves    []pendingWave
	obs      Observer
}

// NewEngine creates an engine over cfg
func NewEngine(cfg config.Snapshot, deps Deps) *Engine {
	e := &Engine{
		cfg:     cfg,
		host:    deps.Host,
		summon:  deps.Summoner,
		catalog: deps.Catalog,
		tiers:   deps.Tiers,
		clock:   deps.Clock,
		rng:     deps.Rand,
		records: make(map[types.PlayerID]map[types.FactionID]*types.HateRecord),
	}
	if e.catalog == nil {
		e.catalog = catalog.Default()
	}
	if e.tiers == nil {
		e.tiers = StepTiers(cfg.TierThresholds)
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// SetObserver attaches an observer
func (e *Engine) SetObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = o
}

// Config returns the snapshot the engine runs on
func (e *Engine) Config() config.Snapshot {
	return e.cfg
}

// Intn draws from the engine's random source; safe for concurrent use
func (e *Engine) Intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

// record returns the (player, faction) record, creating it if asked
func (e *Engine) record(player types.PlayerID, faction types.FactionID, create bool) *types.HateRecord {
	factions, ok := e.records[player]
	if !ok {
		if !create {
			return nil
		}
		factions = make(map[types.FactionID]*types.HateRecord)
		e.records[player] = factions
	}
	r, ok := factions[faction]
	if !ok && create {
		r = &types.HateRecord{}
		factions[faction] = r
	}
	return r
}

func (e *Engine) clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > e.cfg.MaximumHate {
		return e.cfg.MaximumHate
	}
	return v
}

func (e *Engine) countLocked() int {
	n := 0
	for _, factions := range e.records {
		n += len(factions)
	}
	return n
}

// ---------------------------------------------------------------------------
// Gain and decay
// ---------------------------------------------------------------------------

// RegisterHateGain adds base*GainMultiplier to the record and refreshes its
// combat-start stamp
func (e *Engine) RegisterHateGain(player types.PlayerID, faction types.FactionID, base float64) {
	if faction == "" {
		log.Warn("hate gain without faction", "player", player)
		return
	}
	now := e.clock()

	e.mu.Lock()
	before := e.countLocked()
	r := e.record(player, faction, true)
	r.Hate = e.clamp(r.Hate + base*e.cfg.HateGainMultiplier)
	r.LastCombatStart = now
	n := e.countLocked()
	obs := e.obs
	e.mu.Unlock()

	if n != before && obs != nil {
		obs.HateRecords(n)
	}
}

// RegisterKill applies a hate gain if the victim qualifies
func (e *Engine) RegisterKill(player types.PlayerID, victim Victim, base float64) bool {
	if !victim.Qualifies() {
		return false
	}
	e.RegisterHateGain(player, victim.Faction, base)
	return true
}

// Tick decays every record outside its combat grace window by
// DecayPerSecond for the time since the previous Tick. The first call only
// sets the reference time.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastTick.IsZero() {
		e.lastTick = now
		return
	}
	if !now.After(e.lastTick) {
		return
	}
	elapsed := now.Sub(e.lastTick).Seconds()
	e.lastTick = now

	amount := e.cfg.HateDecayPerSecond * elapsed
	if amount <= 0 {
		return
	}
	grace := e.cfg.CombatCooldown
	for _, factions := range e.records {
		for _, r := range factions {
			if r.Hate <= 0 {
				continue
			}
			if now.Sub(r.LastCombatStart) <= grace || now.Sub(r.LastCombatEnd) <= grace {
				continue
			}
			r.Hate = e.clamp(r.Hate - amount)
		}
	}
}

// Hate returns the current hate of player toward faction
func (e *Engine) Hate(player types.PlayerID, faction types.FactionID) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.record(player, faction, false); r != nil {
		return r.Hate
	}
	return 0
}

// Record returns a copy of one record
func (e *Engine) Record(player types.PlayerID, faction types.FactionID) (types.HateRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.record(player, faction, false); r != nil {
		return *r, true
	}
	return types.HateRecord{}, false
}

// Tier returns the ambush tier for player's hate toward faction
func (e *Engine) Tier(player types.PlayerID, faction types.FactionID) int {
	return e.tiers(e.Hate(player, faction))
}

// ---------------------------------------------------------------------------
// Combat signals
// ---------------------------------------------------------------------------

type trigger struct {
	faction types.FactionID
	tier    int
}

type roll struct {
	faction types.FactionID
	success bool
}

// OnCombatStart stamps the player's records and rolls at most one ambush per
// eligible faction. Returns the number of ambushes spawned.
func (e *Engine) OnCombatStart(player types.PlayerID, character types.Entity) int {
	now := e.clock()

	pos, ok := e.host.Position(character)
	if !ok {
		log.Warn("combat start for unknown character", "player", player, "character", character)
		return 0
	}
	safe := e.cfg.RespectTerritory && e.host.InOwnTerritory(player, pos)

	e.mu.Lock()
	factions := e.records[player]
	names := make([]types.FactionID, 0, len(factions))
	for f := range factions {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var triggers []trigger
	var rolls []roll
	for _, f := range names {
		r := factions[f]
		r.LastCombatStart = now
		if safe || r.Hate < e.cfg.MinimumAmbushHate {
			continue
		}
		if !r.LastAmbush.IsZero() && now.Sub(r.LastAmbush) < e.cfg.AmbushCooldown {
			continue
		}
		success := rollPercent(e, e.cfg.AmbushChancePercent)
		rolls = append(rolls, roll{faction: f, success: success})
		if !success {
			continue
		}
		r.LastAmbush = now
		triggers = append(triggers, trigger{faction: f, tier: e.tiers(r.Hate)})
	}
	obs := e.obs
	e.mu.Unlock()

	if safe {
		log.Debug("ambush skipped inside own territory", "player", player)
	}
	if obs != nil {
		for _, r := range rolls {
			obs.AmbushRolled(r.faction, r.success)
		}
	}

	spawned := 0
	for _, t := range triggers {
		plan := Compose(ComposeInput{
			Faction: t.faction,
			Tier:    t.tier,
			Config:  e.cfg,
			Units:   e.catalog.Units(t.faction, t.tier),
		}, e)
		if e.spawnPlan(player, character, pos, plan) {
			spawned++
		}
	}
	return spawned
}

// OnCombatEnd stamps the end of combat on every record of player
func (e *Engine) OnCombatEnd(player types.PlayerID) {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.records[player] {
		r.LastCombatEnd = now
	}
}

// ---------------------------------------------------------------------------
// Spawning
// ---------------------------------------------------------------------------

func (e *Engine) spawnPlan(player types.PlayerID, character types.Entity, pos types.Vec3, plan Plan) bool {
	if len(plan.Entries) == 0 {
		log.Warn("ambush composed no units", "player", player, "faction", plan.Faction, "tier", plan.Tier)
		return false
	}

	units := 0
	for _, entry := range plan.Entries {
		if e.spawnEntry(player, plan.Faction, pos, entry) {
			units += entry.Count
		}
	}
	if units == 0 {
		return false
	}

	e.mu.Lock()
	if plan.FollowUp != nil {
		e.waves = append(e.waves, pendingWave{
			due:       e.clock().Add(plan.FollowUp.Delay),
			player:    player,
			character: character,
			faction:   plan.Faction,
			wave:      *plan.FollowUp,
		})
	}
	obs := e.obs
	e.mu.Unlock()

	log.Info("ambush triggered",
		"player", player,
		"faction", plan.Faction,
		"tier", plan.Tier,
		"units", units,
		"follow_up", plan.FollowUp != nil)
	if obs != nil {
		obs.AmbushTriggered(plan.Faction, units)
	}
	return true
}

func (e *Engine) spawnEntry(player types.PlayerID, faction types.FactionID, pos types.Vec3, entry SquadEntry) bool {
	req := types.SpawnRequest{
		Template: entry.Template,
		Position: pos,
		Count:    entry.Count,
		MinRange: e.cfg.SpawnMinRange,
		MaxRange: e.cfg.SpawnMaxRange,
	}
	ctx := squadUnit{player: player, faction: faction, stats: entry.Stats}
	if _, err := e.summon.SpawnUnit(req, ctx, e.finalizeUnit); err != nil {
		log.Warn("ambush spawn failed",
			"player", player,
			"faction", faction,
			"template", entry.Template,
			"error", err)
		return false
	}
	return true
}

// finalizeUnit runs once per spawned squad member
func (e *Engine) finalizeUnit(unit types.Entity, _ correlation.Marker, ctx any) {
	su, _ := ctx.(squadUnit)

	// the marker occupies the lifetime field until here
	lifetime := e.cfg.AmbushLifetime.Seconds()
	if err := e.host.SetLifetime(unit, lifetime); err != nil {
		log.Warn("failed to set ambush lifetime", "unit", unit, "error", err)
		return
	}
	if !su.stats.IsIdentity() {
		if err := e.host.ApplyStats(unit, su.stats); err != nil {
			log.Warn("failed to scale ambush unit", "unit", unit, "error", err)
		}
	}
	if e.cfg.DisableFeedCharm {
		if err := e.host.DisableFeedCharm(unit); err != nil {
			log.Warn("failed to disable feed/charm", "unit", unit, "error", err)
		}
	}
	if e.cfg.RandomizeVisualBuffs && len(e.cfg.VisualBuffs) > 0 {
		buff := e.cfg.VisualBuffs[e.Intn(len(e.cfg.VisualBuffs))]
		if err := e.host.SetVisualBuff(unit, buff); err != nil {
			log.Warn("failed to set visual buff", "unit", unit, "error", err)
		}
	}
}

// DispatchFollowUps spawns every follow-up wave due at now. Waves whose
// character is gone are dropped. Returns the number of waves spawned.
func (e *Engine) DispatchFollowUps(now time.Time) int {
	e.mu.Lock()
	var due []pendingWave
	kept := e.waves[:0]
	for _, w := range e.waves {
		if now.Before(w.due) {
			kept = append(kept, w)
			continue
		}
		due = append(due, w)
	}
	e.waves = kept
	obs := e.obs
	e.mu.Unlock()

	sent := 0
	for _, w := range due {
		pos, ok := e.host.Position(w.character)
		if !ok {
			log.Debug("follow-up wave dropped, character gone", "player", w.player, "faction", w.faction)
			continue
		}
		entry := SquadEntry{Template: w.wave.Template, Count: w.wave.Count, Stats: types.Identity(), Seasonal: true}
		if !e.spawnEntry(w.player, w.faction, pos, entry) {
			continue
		}
		sent++
		log.Info("follow-up wave dispatched", "player", w.player, "faction", w.faction, "units", w.wave.Count)
		if obs != nil {
			obs.FollowUpDispatched(w.wave.Count)
		}
	}
	return sent
}

// PendingFollowUps returns the number of scheduled waves
func (e *Engine) PendingFollowUps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waves)
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Snapshot deep-copies the table
func (e *Engine) Snapshot() types.SnapshotData {
	e.mu.Lock()
	defer e.mu.Unlock()
	data := types.NewSnapshotData()
	for player, factions := range e.records {
		cp := make(map[types.FactionID]*types.HateRecord, len(factions))
		for f, r := range factions {
			rec := *r
			cp[f] = &rec
		}
		data.Players[player] = cp
	}
	return data
}

// Restore replaces the table with data, clamping hate into range
func (e *Engine) Restore(data types.SnapshotData) {
	e.mu.Lock()
	e.records = make(map[types.PlayerID]map[types.FactionID]*types.HateRecord, len(data.Players))
	for player, factions := range data.Players {
		cp := make(map[types.FactionID]*types.HateRecord, len(factions))
		for f, r := range factions {
			if r == nil {
				continue
			}
			rec := *r
			rec.Hate = e.clamp(rec.Hate)
			cp[f] = &rec
		}
		e.records[player] = cp
	}
	n := e.countLocked()
	obs := e.obs
	e.mu.Unlock()

	log.Info("hate table restored", "players", len(data.Players), "records", n)
	if obs != nil {
		obs.HateRecords(n)
	}
}

// Prune drops records with no hate and no ambush history. Returns the
// number removed.
func (e *Engine) Prune() int {
	e.mu.Lock()
	removed := 0
	for player, factions := range e.records {
		for f, r := range factions {
			if r.IsZero() {
				delete(factions, f)
				removed++
			}
		}
		if len(factions) == 0 {
			delete(e.records, player)
		}
	}
	n := e.countLocked()
	obs := e.obs
	e.mu.Unlock()

	if removed > 0 && obs != nil {
		obs.HateRecords(n)
	}
	return removed
}
