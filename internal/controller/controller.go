// ============================================================================
// Ambush Controller - process-level coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Owns every coordinator state container for the lifetime of the
//          process and wires them to one host.
//
// Components:
//   - correlation.Registry  pending spawn callbacks
//   - spawn.Facade / Pump   marker encoding and per-tick completion
//   - duel.Coordinator      active duel table
//   - hate.Engine           hate table and ambush trigger
//   - Store                 hate table persistence (file or sqlite)
//
// Background loops (ticker + stopCh + WaitGroup):
//   1. Decay loop    - engine.Tick every DecayInterval
//   2. Snapshot loop - Prune, Snapshot, Store.Save every SaveInterval
//
// Host-facing work (completion pump, follow-up waves) never runs on a
// background goroutine; the host calls HostTick from its simulation thread.
//
// Startup:  Store.Load -> engine.Restore -> loops
// Shutdown: stop loops -> final save -> Store.Close
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/internal/duel"
	"github.com/ChuLiYu/faction-ambush/internal/hate"
	"github.com/ChuLiYu/faction-ambush/internal/metrics"
	"github.com/ChuLiYu/faction-ambush/internal/spawn"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// saveTimeout bounds a single persistence pass
const saveTimeout = 30 * time.Second

var (
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("controller already started")
	// ErrStopped is returned by Start after Stop
	ErrStopped = errors.New("controller stopped")
)

// ============================================================================
// Boundaries
// ============================================================================

// Host is everything the coordinator needs from the game host
type Host interface {
	spawn.Spawner
	spawn.Enumerator
	spawn.LifetimeReader
	duel.Host
	hate.Host
	PlayerOf(e types.Entity) (types.PlayerID, bool)
}

// Store persists the hate table
type Store interface {
	Load(ctx context.Context) (types.SnapshotData, error)
	Save(ctx context.Context, data types.SnapshotData) error
	Close() error
	Describe() string
}

// Options are the optional collaborators. Zero values get defaults.
type Options struct {
	Store     Store              // default: NewStore(cfg)
	Catalog   hate.Catalog       // default: built-in catalog
	Metrics   *metrics.Collector // nil: no metrics
	Rand      hate.Rand
	Clock     func() time.Time
	Fallbacks []spawn.Fallback // entities no callback claimed

	// ExternalDecay skips the decay loop; the host calls Decay instead
	ExternalDecay bool
}

// TickResult reports one HostTick
type TickResult struct {
	Completed int
	FollowUps int
}

// ============================================================================
// Controller
// ============================================================================

// Controller wires the coordinators to one host
type Controller struct {
	cfg      config.Snapshot
	host     Host
	registry *correlation.Registry
	facade   *spawn.Facade
	pump     *spawn.Pump
	duels    *duel.Coordinator
	engine   *hate.Engine
	store    Store
	metrics  *metrics.Collector
	clock    func() time.Time

	externalDecay bool

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
	lastSave  time.Time
	stopCh    chan struct{}
	loopWg    sync.WaitGroup
}

// NewController builds every component over host
func NewController(cfg config.Snapshot, host Host, opts Options) (*Controller, error) {
	if host == nil {
		return nil, fmt.Errorf("host is required")
	}
	store := opts.Store
	if store == nil {
		s, err := NewStore(cfg)
		if err != nil {
			return nil, err
		}
		store = s
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	registry := correlation.NewRegistry()
	channel := spawn.NewLifetimeChannel(host, registry.Base())
	facade := spawn.NewFacade(registry, channel, host)
	pump := spawn.NewPump(registry, channel, host)
	for _, fb := range opts.Fallbacks {
		pump.AddFallback(fb)
	}

	c := &Controller{
		cfg:      cfg,
		host:     host,
		registry: registry,
		facade:   facade,
		pump:     pump,
		duels:    duel.NewCoordinator(host, facade, cfg.Duel),
		engine: hate.NewEngine(cfg, hate.Deps{
			Host:     host,
			Summoner: facade,
			Catalog:  opts.Catalog,
			Rand:     opts.Rand,
			Clock:    clock,
		}),
		store:   store,
		metrics: opts.Metrics,
		clock:   clock,
		stopCh:  make(chan struct{}),

		externalDecay: opts.ExternalDecay,
	}

	if c.metrics != nil {
		registry.SetObserver(c.metrics)
		c.duels.SetObserver(c.metrics)
		c.engine.SetObserver(c.metrics)
	}
	return c, nil
}

// Start restores the hate table and launches the background loops
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.startTime = c.clock()
	c.mu.Unlock()

	log.Info("Restoring hate table", "store", c.store.Describe())
	start := time.Now()
	data, err := c.store.Load(ctx)
	if err != nil {
		// not started: Stop must not overwrite the store with an empty table
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("failed to load hate table: %w", err)
	}
	c.engine.Restore(data)
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.SetRecoveryTime(elapsed)
	}
	log.Info("Recovery completed",
		"duration", elapsed,
		"records", data.RecordCount(),
		"saved_at", data.SavedAt)

	if !c.externalDecay {
		c.loopWg.Add(1)
		go c.decayLoop()
	}
	c.loopWg.Add(1)
	go c.snapshotLoop()

	log.Info("Controller started",
		"decay_interval", c.cfg.DecayInterval,
		"save_interval", c.cfg.SaveInterval)
	return nil
}

// decayLoop applies hate decay on a fixed interval
func (c *Controller) decayLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Debug("Decay loop stopped")
			return
		case <-ticker.C:
			c.Decay()
		}
	}
}

// snapshotLoop persists the table on a fixed interval
func (c *Controller) snapshotLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.cfg.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Debug("Snapshot loop stopped")
			return
		case <-ticker.C:
			if err := c.Save(context.Background()); err != nil {
				log.Error("Failed to save hate table", "error", err)
			}
		}
	}
}

// Save prunes empty records and writes the table to the store. The table is
// copied under the engine lock; store I/O runs without it.
func (c *Controller) Save(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	start := time.Now()
	pruned := c.engine.Prune()
	data := c.engine.Snapshot()
	data.SavedAt = c.clock().UTC()

	err := c.store.Save(ctx, data)
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordSave(elapsed, err)
	}
	if err != nil {
		return fmt.Errorf("failed to save to %s: %w", c.store.Describe(), err)
	}

	c.mu.Lock()
	c.lastSave = data.SavedAt
	c.mu.Unlock()

	log.Info("Hate table saved",
		"duration", elapsed,
		"records", data.RecordCount(),
		"pruned", pruned)
	return nil
}

// ============================================================================
// Host-facing entry points
// ============================================================================

// HostTick runs the per-tick work: resolve spawn completions, then send any
// follow-up waves that are due. Call it from the host's simulation thread.
func (c *Controller) HostTick() TickResult {
	return TickResult{
		Completed: c.pump.Run(),
		FollowUps: c.engine.DispatchFollowUps(c.clock()),
	}
}

// Decay applies hate decay up to the controller clock
func (c *Controller) Decay() {
	c.engine.Tick(c.clock())
}

// OnKill credits a qualifying kill by player against victim's faction
func (c *Controller) OnKill(player types.PlayerID, victim hate.Victim, base float64) bool {
	return c.engine.RegisterKill(player, victim, base)
}

// OnCombatChange forwards a combat flag change for entity. Duel participants
// update their duel; player characters also drive the ambush trigger.
// Returns the number of ambushes spawned.
func (c *Controller) OnCombatChange(entity types.Entity, inCombat bool) int {
	c.duels.UpdateCombatState(entity, inCombat)

	player, ok := c.host.PlayerOf(entity)
	if !ok {
		return 0
	}
	if !inCombat {
		c.engine.OnCombatEnd(player)
		return 0
	}
	return c.engine.OnCombatStart(player, entity)
}

// SummonDuel starts a duel summon
func (c *Controller) SummonDuel(req duel.SummonRequest) bool {
	return c.duels.TrySummonForPlayer(req)
}

// EndDuel tears a duel down
func (c *Controller) EndDuel(id int64) bool {
	return c.duels.EndDuel(id)
}

// ============================================================================
// Accessors
// ============================================================================

func (c *Controller) Engine() *hate.Engine { return c.engine }
func (c *Controller) Duels() *duel.Coordinator { return c.duels }
func (c *Controller) Registry() *correlation.Registry { return c.registry }
func (c *Controller) Facade() *spawn.Facade { return c.facade }
func (c *Controller) Pump() *spawn.Pump { return c.pump }
func (c *Controller) Store() Store { return c.store }

// GetStatus summarizes the controller for the CLI
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.Lock()
	startTime, lastSave := c.startTime, c.lastSave
	c.mu.Unlock()

	snap := c.engine.Snapshot()
	pump := c.pump.Stats()

	status := map[string]interface{}{
		"store":              c.store.Describe(),
		"players":            len(snap.Players),
		"hate_records":       snap.RecordCount(),
		"pending_markers":    c.registry.Pending(),
		"pending_follow_ups": c.engine.PendingFollowUps(),
		"active_duels":       len(c.duels.ActiveDuels()),
		"spawns_handled":     pump["handled"],
		"spawns_unmatched":   pump["unmatched"],
		"pump_disabled":      c.pump.Disabled(),
	}
	if !startTime.IsZero() {
		status["uptime"] = c.clock().Sub(startTime).String()
	}
	if !lastSave.IsZero() {
		status["last_save"] = lastSave.Format(time.RFC3339)
	}
	return status
}

// Stop halts the loops, writes a final snapshot and closes the store.
// Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		log.Info("Controller already stopped")
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	log.Info("Stopping controller...")
	close(c.stopCh)
	c.loopWg.Wait()

	if started {
		if err := c.Save(context.Background()); err != nil {
			log.Error("Failed to save final hate table", "error", err)
		}
	}
	if err := c.store.Close(); err != nil {
		log.Error("Failed to close store", "error", err)
	}
	log.Info("Controller stopped")
}
