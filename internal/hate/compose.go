// ============================================================================
// Ambush squad composition
// ============================================================================
//
// Package: internal/hate
// File: compose.go
//
// Compose is a pure function of (faction, tier, config, catalog units, rng):
//   1. base units for the faction at the tier
//   2. tier 5 elite: squad multipliers on every unit, plus
//      squad * RepresentativeRatio + RepresentativeAdditive on one
//      representative (the first catalog unit)
//   3. tier 5 Halloween: ScarecrowMinimum..ScarecrowMaximum scarecrows,
//      times RareMultiplier on a RareChancePercent roll
//   4. Halloween follow-up: on a FollowUpChancePercent roll a second wave of
//      FollowUpMinimum..FollowUpMaximum scarecrows after FollowUpDelay
//
// ============================================================================

package hate

import (
	"time"

	"github.com/ChuLiYu/faction-ambush/internal/catalog"
	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// EliteTier and SeasonalTier gate elite scaling and scarecrows
const (
	EliteTier    = 5
	SeasonalTier = 5
)

// Rand is the random source consumed by composition and the ambush roll
type Rand interface {
	Intn(n int) int
}

// SquadEntry is one spawn request of a composed squad
type SquadEntry struct {
	Template       types.PrefabID
	Count          int
	Stats          types.StatMultipliers
	Representative bool
	Seasonal       bool
}

// FollowUpWave is a second squad spawned after Delay
type FollowUpWave struct {
	Template types.PrefabID
	Count    int
	Delay    time.Duration
}

// Plan is a composed ambush squad
type Plan struct {
	Faction  types.FactionID
	Tier     int
	Entries  []SquadEntry
	FollowUp *FollowUpWave
}

// UnitCount sums every entry's count
func (p Plan) UnitCount() int {
	n := 0
	for _, e := range p.Entries {
		n += e.Count
	}
	return n
}

// Scarecrows sums the seasonal entries' counts
func (p Plan) Scarecrows() int {
	n := 0
	for _, e := range p.Entries {
		if e.Seasonal {
			n += e.Count
		}
	}
	return n
}

// ComposeInput is everything composition depends on besides randomness
type ComposeInput struct {
	Faction types.FactionID
	Tier    int
	Config  config.Snapshot
	Units   []catalog.Unit
}

// Compose builds the squad plan
func Compose(in ComposeInput, rng Rand) Plan {
	plan := Plan{Faction: in.Faction, Tier: in.Tier}
	cfg := in.Config

	for _, u := range in.Units {
		if u.Count < 1 {
			continue
		}
		plan.Entries = append(plan.Entries, SquadEntry{
			Template: u.Template,
			Count:    u.Count,
			Stats:    types.Identity(),
		})
	}

	if in.Tier >= EliteTier && cfg.Elite.Applies(in.Faction) && len(plan.Entries) > 0 {
		plan.Entries = applyElite(plan.Entries, cfg.Elite)
	}

	if cfg.Seasonal.Halloween && in.Tier >= SeasonalTier {
		s := cfg.Seasonal
		count := rollRange(rng, s.ScarecrowMinimum, s.ScarecrowMaximum)
		if rollPercent(rng, s.RareChancePercent) {
			count *= s.RareMultiplier
		}
		if count > 0 {
			plan.Entries = append(plan.Entries, SquadEntry{
				Template: s.ScarecrowTemplate,
				Count:    count,
				Stats:    types.Identity(),
				Seasonal: true,
			})
		}

		if rollPercent(rng, s.FollowUpChancePercent) {
			if n := rollRange(rng, s.FollowUpMinimum, s.FollowUpMaximum); n > 0 {
				plan.FollowUp = &FollowUpWave{
					Template: s.ScarecrowTemplate,
					Count:    n,
					Delay:    s.FollowUpDelay,
				}
			}
		}
	}
	return plan
}

// applyElite scales every entry and splits one representative off the first
func applyElite(entries []SquadEntry, elite config.EliteSnapshot) []SquadEntry {
	squad := elite.Squad
	rep := representativeStats(squad, elite.RepresentativeRatio, elite.RepresentativeAdditive)

	out := make([]SquadEntry, 0, len(entries)+1)
	first := entries[0]
	out = append(out, SquadEntry{
		Template:       first.Template,
		Count:          1,
		Stats:          rep,
		Representative: true,
	})
	if first.Count > 1 {
		out = append(out, SquadEntry{Template: first.Template, Count: first.Count - 1, Stats: squad})
	}
	for _, e := range entries[1:] {
		e.Stats = squad
		out = append(out, e)
	}
	return out
}

func representativeStats(squad types.StatMultipliers, ratio, additive float64) types.StatMultipliers {
	f := func(v float64) float64 { return v*ratio + additive }
	return types.StatMultipliers{
		Health:              f(squad.Health),
		DamageReduction:     f(squad.DamageReduction),
		Resistance:          f(squad.Resistance),
		Power:               f(squad.Power),
		Speed:               f(squad.Speed),
		KnockbackResistance: f(squad.KnockbackResistance),
	}
}

// rollPercent succeeds with pct% probability; 0 and 100 consume no randomness
func rollPercent(rng Rand, pct int) bool {
	switch {
	case pct <= 0:
		return false
	case pct >= 100:
		return true
	}
	return rng.Intn(100) < pct
}

// rollRange returns a uniform integer in [lo, hi]
func rollRange(rng Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
