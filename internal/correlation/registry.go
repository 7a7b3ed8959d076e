// ============================================================================
// Correlation Registry - marker -> pending callback table
// ============================================================================
//
// Package: internal/correlation
// File: registry.go
// Purpose: Correlates a future, asynchronous entity-creation event back to
//          the request that caused it.
//
// The host spawn primitive returns no handle. A request carries one integer
// (the marker) through a side channel onto every entity it produces; the
// completion pump reads it back on a later tick and calls TryComplete.
//
// Marker lifecycle:
//   Unregistered --Register--> Pending --TryComplete x expected--> Retired
//   TryComplete on Unregistered or Retired returns false (the common case
//   for entities not created through this path).
//
// Concurrency:
//   Markers may be issued and completed from different tick phases, so the
//   table is mutex-guarded and the counter atomic. Callbacks run outside the
//   lock so they can issue and register new markers.
//
// ============================================================================

package correlation

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// DefaultBase is the first marker issued by NewRegistry. Markers travel in a
// field the host also uses for genuine values, so they start far above them.
const DefaultBase Marker = 1_000_000

// Marker is the correlation key linking a spawn request to its completions
type Marker int64

// Callback runs once per completed entity
type Callback func(entity types.Entity, marker Marker, ctx any)

// Observer receives registry events (metrics)
type Observer interface {
	MarkerIssued()
	MarkerCompleted()
	MarkerMissed()
	MarkerCancelled()
	CallbackPanicked()
	PendingMarkers(n int)
}

type pending struct {
	remaining int
	ctx       any
	cb        Callback
}

// Registry holds pending callbacks keyed by marker
type Registry struct {
	base    Marker
	next    atomic.Int64
	mu      sync.Mutex
	entries map[Marker]*pending
	obs     Observer
}

// NewRegistry creates a registry issuing markers from DefaultBase
func NewRegistry() *Registry {
	return NewRegistryFrom(DefaultBase)
}

// NewRegistryFrom creates a registry whose first marker is base
func NewRegistryFrom(base Marker) *Registry {
	r := &Registry{base: base, entries: make(map[Marker]*pending)}
	r.next.Store(int64(base) - 1)
	return r
}

// SetObserver attaches an observer; nil detaches
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	r.obs = o
	r.mu.Unlock()
}

// Base returns the smallest marker this registry can issue
func (r *Registry) Base() Marker {
	return r.base
}

// IssueMarker returns a never-before-issued marker
func (r *Registry) IssueMarker() Marker {
	m := Marker(r.next.Add(1))
	if o := r.observer(); o != nil {
		o.MarkerIssued()
	}
	return m
}

// Register stores cb for marker, expecting `expected` completions.
// expected < 1 is clamped to 1. Registering the same marker twice replaces
// the earlier entry; callers must not do that.
func (r *Registry) Register(marker Marker, expected int, ctx any, cb Callback) {
	if cb == nil {
		return
	}
	if expected < 1 {
		expected = 1
	}

	r.mu.Lock()
	if _, exists := r.entries[marker]; exists {
		log.Warn("marker registered twice, replacing callback", "marker", marker)
	}
	r.entries[marker] = &pending{remaining: expected, ctx: ctx, cb: cb}
	n := len(r.entries)
	obs := r.obs
	r.mu.Unlock()

	if obs != nil {
		obs.PendingMarkers(n)
	}
}

// TryComplete delivers one completion for marker. It returns false when no
// callback is pending for it.
func (r *Registry) TryComplete(marker Marker, entity types.Entity) bool {
	r.mu.Lock()
	p, ok := r.entries[marker]
	if !ok {
		obs := r.obs
		r.mu.Unlock()
		if obs != nil {
			obs.MarkerMissed()
		}
		return false
	}
	p.remaining--
	if p.remaining <= 0 {
		delete(r.entries, marker)
	}
	n := len(r.entries)
	obs := r.obs
	r.mu.Unlock()

	if err := invoke(p.cb, entity, marker, p.ctx); err != nil {
		log.Error("spawn callback failed", "marker", marker, "entity", entity, "error", err)
		if obs != nil {
			obs.CallbackPanicked()
		}
	}
	if obs != nil {
		obs.MarkerCompleted()
		obs.PendingMarkers(n)
	}
	return true
}

// Cancel removes marker without invoking its callback
func (r *Registry) Cancel(marker Marker) bool {
	r.mu.Lock()
	_, ok := r.entries[marker]
	delete(r.entries, marker)
	n := len(r.entries)
	obs := r.obs
	r.mu.Unlock()

	if ok && obs != nil {
		obs.MarkerCancelled()
		obs.PendingMarkers(n)
	}
	return ok
}

// Pending returns the number of markers still waiting for completions
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remaining returns the completions still expected for marker
func (r *Registry) Remaining(marker Marker) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[marker]
	if !ok {
		return 0, false
	}
	return p.remaining, true
}

func (r *Registry) observer() Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.obs
}

func invoke(cb Callback, entity types.Entity, marker Marker, ctx any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	cb(entity, marker, ctx)
	return nil
}
