package spawn

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// Enumerator lists entities created since the previous call, in host order
type Enumerator interface {
	NewlySpawned() ([]types.Entity, error)
}

// Fallback receives newly spawned entities no pending callback claimed
type Fallback func(entity types.Entity)

// Pump resolves markers on newly created entities, once per host tick
type Pump struct {
	registry  *correlation.Registry
	channel   Channel
	source    Enumerator
	mu        sync.Mutex
	fallbacks []Fallback

	disabled  atomic.Bool
	handled   atomic.Uint64
	unmatched atomic.Uint64
	sometimes rate.Sometimes
}

// NewPump creates a completion pump
func NewPump(registry *correlation.Registry, channel Channel, source Enumerator) *Pump {
	return &Pump{
		registry:  registry,
		channel:   channel,
		source:    source,
		sometimes: rate.Sometimes{Interval: 30 * time.Second},
	}
}

// AddFallback registers a listener for unmatched entities.
// Listeners run in registration order.
func (p *Pump) AddFallback(fb Fallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbacks = append(p.fallbacks, fb)
}

// Disabled reports whether the pump latched itself off
func (p *Pump) Disabled() bool {
	return p.disabled.Load()
}

// Run processes one tick worth of new entities and returns how many
// completions it delivered
func (p *Pump) Run() int {
	if p.disabled.Load() {
		return 0
	}

	entities, err := p.source.NewlySpawned()
	if err != nil {
		// environmental, not transient: stop asking for the rest of the process
		p.disabled.Store(true)
		log.Error("spawn query unavailable, completion pump disabled", "error", err)
		return 0
	}

	p.mu.Lock()
	fallbacks := append([]Fallback(nil), p.fallbacks...)
	p.mu.Unlock()

	handled, unmatched := 0, 0
	for _, e := range entities {
		if marker, ok := p.channel.Decode(e); ok && p.registry.TryComplete(marker, e) {
			handled++
			continue
		}
		unmatched++
		for _, fb := range fallbacks {
			fb(e)
		}
	}

	p.handled.Add(uint64(handled))
	p.unmatched.Add(uint64(unmatched))
	if unmatched > 0 {
		p.sometimes.Do(func() {
			log.Debug("spawned entities without pending callback",
				"tick_unmatched", unmatched,
				"total_unmatched", p.unmatched.Load())
		})
	}
	return handled
}

// Stats returns lifetime handled/unmatched counts
func (p *Pump) Stats() map[string]uint64 {
	return map[string]uint64{
		"handled":   p.handled.Load(),
		"unmatched": p.unmatched.Load(),
	}
}
