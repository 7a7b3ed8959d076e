package config

import (
	"time"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// Snapshot is the clamped, immutable configuration passed by value to the
// hate engine and duel coordinator. Build it with Settings.Snapshot().
type Snapshot struct {
	MaximumHate        float64
	HateGainMultiplier float64
	HateDecayPerSecond float64
	CombatCooldown     time.Duration
	DecayInterval      time.Duration
	TierThresholds     []float64

	AmbushChancePercent  int
	MinimumAmbushHate    float64
	AmbushCooldown       time.Duration
	AmbushLifetime       time.Duration // 0: never expire
	DisableFeedCharm     bool
	RandomizeVisualBuffs bool
	VisualBuffs          []types.PrefabID
	RespectTerritory     bool
	SpawnMinRange        float64
	SpawnMaxRange        float64

	Elite    EliteSnapshot
	Seasonal SeasonalSnapshot
	Duel     DuelSettings

	PersistenceBackend string
	PersistencePath    string
	SaveInterval       time.Duration
	Backups            int

	MetricsEnabled bool
	MetricsPort    int
	CatalogPath    string
}

// EliteSnapshot is the clamped elite sub-configuration
type EliteSnapshot struct {
	Enabled                bool
	Factions               []types.FactionID
	Squad                  types.StatMultipliers
	RepresentativeRatio    float64
	RepresentativeAdditive float64
}

// Applies reports whether elite scaling applies to faction
func (e EliteSnapshot) Applies(faction types.FactionID) bool {
	if !e.Enabled {
		return false
	}
	if len(e.Factions) == 0 {
		return true
	}
	for _, f := range e.Factions {
		if f == faction {
			return true
		}
	}
	return false
}

// SeasonalSnapshot is the clamped seasonal sub-configuration
type SeasonalSnapshot struct {
	Halloween             bool
	ScarecrowTemplate     types.PrefabID
	ScarecrowMinimum      int
	ScarecrowMaximum      int
	RareChancePercent     int
	RareMultiplier        int
	FollowUpChancePercent int
	FollowUpMinimum       int
	FollowUpMaximum       int
	FollowUpDelay         time.Duration
}

// Snapshot clamps every setting into its documented range
func (s Settings) Snapshot() Snapshot {
	snap := Snapshot{
		MaximumHate:        nonNegative(s.Hate.Maximum),
		HateGainMultiplier: nonNegative(s.Hate.GainMultiplier),
		HateDecayPerSecond: nonNegative(s.Hate.DecayPerSecond),
		CombatCooldown:     floorDuration(s.Hate.CombatCooldown, MinCombatCooldown),
		DecayInterval:      floorDuration(s.Hate.DecayInterval, MinDecayInterval),
		TierThresholds:     clampThresholds(s.Hate.TierThresholds),

		AmbushChancePercent:  percent(s.Ambush.ChancePercent),
		MinimumAmbushHate:    nonNegative(s.Ambush.MinimumHate),
		AmbushCooldown:       floorDuration(s.Ambush.Cooldown, MinAmbushCooldown),
		AmbushLifetime:       lifetime(s.Ambush.Lifetime),
		DisableFeedCharm:     s.Ambush.DisableFeedCharm,
		RandomizeVisualBuffs: s.Ambush.RandomizeVisualBuffs,
		VisualBuffs:          append([]types.PrefabID(nil), s.Ambush.VisualBuffs...),
		RespectTerritory:     s.Ambush.RespectTerritory,
		SpawnMinRange:        nonNegative(s.Ambush.SpawnMinRange),

		Elite: EliteSnapshot{
			Enabled:                s.Elite.Enabled,
			Factions:               append([]types.FactionID(nil), s.Elite.Factions...),
			Squad:                  clampMultipliers(s.Elite.Squad),
			RepresentativeRatio:    nonNegative(s.Elite.RepresentativeRatio),
			RepresentativeAdditive: nonNegative(s.Elite.RepresentativeAdditive),
		},
		Seasonal: SeasonalSnapshot{
			Halloween:             s.Seasonal.Halloween,
			ScarecrowTemplate:     s.Seasonal.ScarecrowTemplate,
			ScarecrowMinimum:      nonNegativeInt(s.Seasonal.ScarecrowMinimum),
			RareChancePercent:     percent(s.Seasonal.RareChancePercent),
			RareMultiplier:        nonNegativeInt(s.Seasonal.RareMultiplier),
			FollowUpChancePercent: percent(s.Seasonal.FollowUpChancePercent),
			FollowUpMinimum:       nonNegativeInt(s.Seasonal.FollowUpMinimum),
			FollowUpDelay:         floorDuration(s.Seasonal.FollowUpDelay, 0),
		},
		Duel: DuelSettings{
			ArenaTemplate:       s.Duel.ArenaTemplate,
			ConnectionBuff:      s.Duel.ConnectionBuff,
			DefaultRadius:       nonNegative(s.Duel.DefaultRadius),
			SupplementalSpacing: nonNegative(s.Duel.SupplementalSpacing),
		},

		PersistenceBackend: s.Persistence.Backend,
		PersistencePath:    s.Persistence.Path,
		SaveInterval:       floorDuration(s.Persistence.SaveInterval, MinSaveInterval),
		Backups:            nonNegativeInt(s.Persistence.Backups),

		MetricsEnabled: s.Metrics.Enabled,
		MetricsPort:    s.Metrics.Port,
		CatalogPath:    s.CatalogPath,
	}

	if snap.PersistenceBackend == "" {
		snap.PersistenceBackend = "file"
	}
	snap.SpawnMaxRange = atLeast(nonNegative(s.Ambush.SpawnMaxRange), snap.SpawnMinRange)
	snap.Seasonal.ScarecrowMaximum = atLeastInt(s.Seasonal.ScarecrowMaximum, snap.Seasonal.ScarecrowMinimum)
	snap.Seasonal.FollowUpMaximum = atLeastInt(s.Seasonal.FollowUpMaximum, snap.Seasonal.FollowUpMinimum)
	if snap.MinimumAmbushHate > snap.MaximumHate {
		log.Warn("minimum ambush hate above maximum hate, ambushes can never trigger",
			"minimum", snap.MinimumAmbushHate,
			"maximum", snap.MaximumHate)
	}
	return snap
}

func percent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	return v
}

func nonNegativeInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func atLeast(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}

func atLeastInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func floorDuration(v, floor time.Duration) time.Duration {
	if v < floor {
		return floor
	}
	return v
}

// lifetime keeps 0 (persistent) and raises finite values to the floor
func lifetime(v time.Duration) time.Duration {
	if v <= 0 {
		return 0
	}
	return floorDuration(v, MinAmbushLifetime)
}

func clampMultipliers(m types.StatMultipliers) types.StatMultipliers {
	return types.StatMultipliers{
		Health:              nonNegative(m.Health),
		DamageReduction:     nonNegative(m.DamageReduction),
		Resistance:          nonNegative(m.Resistance),
		Power:               nonNegative(m.Power),
		Speed:               nonNegative(m.Speed),
		KnockbackResistance: nonNegative(m.KnockbackResistance),
	}
}

// clampThresholds makes thresholds non-negative and non-decreasing
func clampThresholds(in []float64) []float64 {
	out := make([]float64, len(in))
	prev := 0.0
	for i, v := range in {
		v = nonNegative(v)
		if v < prev {
			v = prev
		}
		out[i] = v
		prev = v
	}
	return out
}
