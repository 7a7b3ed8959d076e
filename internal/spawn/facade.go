// ============================================================================
// Spawn Request Facade
// ============================================================================
//
// Package: internal/spawn
// File: facade.go
// Purpose: Wraps the host's fire-and-forget "spawn unit" primitive so that a
//          caller can attach a callback that runs once per spawned entity.
//
// Flow:
//   SpawnUnit(req, ctx, cb)
//     1. registry.IssueMarker()
//     2. registry.Register(marker, req.Count, ctx, cb)   (only if cb != nil)
//     3. channel.Encode(&req, marker)
//     4. spawner.SpawnUnit(req)
//   On a host error the registration is cancelled before returning.
//
// The entity shows up on a later tick; Pump resolves it.
//
// ============================================================================

package spawn

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var (
	// ErrSubmitFailed wraps host-side spawn submission errors
	ErrSubmitFailed = errors.New("spawn submission failed")
	// ErrInvalidRequest is returned for requests the host would reject anyway
	ErrInvalidRequest = errors.New("invalid spawn request")
)

// Spawner is the host's spawn primitive
type Spawner interface {
	SpawnUnit(req types.SpawnRequest) error
}

// Facade issues spawn requests with correlated callbacks
type Facade struct {
	registry *correlation.Registry
	channel  Channel
	spawner  Spawner
}

// NewFacade creates a facade over registry, channel and host spawner
func NewFacade(registry *correlation.Registry, channel Channel, spawner Spawner) *Facade {
	return &Facade{
		registry: registry,
		channel:  channel,
		spawner:  spawner,
	}
}

// Registry returns the underlying correlation registry
func (f *Facade) Registry() *correlation.Registry {
	return f.registry
}

// SpawnUnit submits req and registers cb to run once per produced entity.
// A nil cb still consumes a marker so the entity is recognisable as ours.
func (f *Facade) SpawnUnit(req types.SpawnRequest, ctx any, cb correlation.Callback) (correlation.Marker, error) {
	if req.Count < 1 {
		return 0, fmt.Errorf("%w: count %d", ErrInvalidRequest, req.Count)
	}
	if req.MaxRange < req.MinRange {
		req.MaxRange = req.MinRange
	}

	marker := f.registry.IssueMarker()
	if cb != nil {
		f.registry.Register(marker, req.Count, ctx, cb)
	}
	f.channel.Encode(&req, marker)

	if err := f.spawner.SpawnUnit(req); err != nil {
		f.registry.Cancel(marker)
		return 0, fmt.Errorf("%w: template %d: %v", ErrSubmitFailed, req.Template, err)
	}

	log.Debug("spawn submitted",
		"marker", marker,
		"template", req.Template,
		"count", req.Count)
	return marker, nil
}

// Cancel drops a pending registration; the host-side request is unaffected
func (f *Facade) Cancel(marker correlation.Marker) bool {
	return f.registry.Cancel(marker)
}
