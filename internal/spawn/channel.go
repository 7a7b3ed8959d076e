package spawn

import (
	"math"

	"github.com/ChuLiYu/faction-ambush/internal/correlation"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// Channel carries a marker from a spawn request onto the entities the
// request produces. The value written by Encode must be readable, unmodified,
// by Decode on every produced entity.
type Channel interface {
	Encode(req *types.SpawnRequest, marker correlation.Marker)
	Decode(entity types.Entity) (correlation.Marker, bool)
}

// LifetimeReader exposes the host's per-entity lifetime component
type LifetimeReader interface {
	Lifetime(entity types.Entity) (float64, bool)
}

// LifetimeChannel embeds the marker in the spawn lifetime field. The host
// copies that field verbatim onto each spawned unit; real lifetimes are
// applied afterwards by the completion callback.
type LifetimeChannel struct {
	reader LifetimeReader
	base   correlation.Marker
}

// NewLifetimeChannel decodes only values at or above base
func NewLifetimeChannel(reader LifetimeReader, base correlation.Marker) *LifetimeChannel {
	return &LifetimeChannel{reader: reader, base: base}
}

func (c *LifetimeChannel) Encode(req *types.SpawnRequest, marker correlation.Marker) {
	req.Lifetime = float64(marker)
}

func (c *LifetimeChannel) Decode(entity types.Entity) (correlation.Marker, bool) {
	v, ok := c.reader.Lifetime(entity)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v != math.Trunc(v) || v < float64(c.base) || v > math.MaxInt64/2 {
		return 0, false
	}
	return correlation.Marker(int64(v)), true
}
