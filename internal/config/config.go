// ============================================================================
// Configuration - settings file, environment overrides, clamped snapshot
// ============================================================================
//
// Package: internal/config
// File: config.go
//
// Sources, in order:
//   1. Default()                      canonical defaults
//   2. YAML file (gopkg.in/yaml.v3)   any subset of the keys below
//   3. Environment (caarlos0/env)     AMBUSHD_* variables
//
// Settings are raw and may be out of range. Snapshot() clamps every value
// once; the engine only ever sees a Snapshot.
//
// Example file:
//
//   hate:
//     maximum: 300
//     gain_multiplier: 1.0
//     decay_per_second: 0.5
//     combat_cooldown: 60s
//   ambush:
//     chance_percent: 40
//     minimum_hate: 50
//     cooldown: 10m
//     lifetime: 0s
//
// ============================================================================

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// EnvPrefix prefixes every environment override
const EnvPrefix = "AMBUSHD_"

// Floors enforced by Snapshot
const (
	MinCombatCooldown = 1 * time.Second
	MinAmbushLifetime = 10 * time.Second
	MinAmbushCooldown = 1 * time.Second
	MinDecayInterval  = 100 * time.Millisecond
	MinSaveInterval   = 1 * time.Second
)

// HateSettings controls accumulation and decay
type HateSettings struct {
	Maximum        float64       `yaml:"maximum" env:"MAXIMUM"`
	GainMultiplier float64       `yaml:"gain_multiplier" env:"GAIN_MULTIPLIER"`
	DecayPerSecond float64       `yaml:"decay_per_second" env:"DECAY_PER_SECOND"`
	CombatCooldown time.Duration `yaml:"combat_cooldown" env:"COMBAT_COOLDOWN"`
	DecayInterval  time.Duration `yaml:"decay_interval" env:"DECAY_INTERVAL"`
	TierThresholds []float64     `yaml:"tier_thresholds" env:"TIER_THRESHOLDS" envSeparator:","`
}

// AmbushSettings controls the ambush trigger and spawned squads
type AmbushSettings struct {
	ChancePercent        int              `yaml:"chance_percent" env:"CHANCE_PERCENT"`
	MinimumHate          float64          `yaml:"minimum_hate" env:"MINIMUM_HATE"`
	Cooldown             time.Duration    `yaml:"cooldown" env:"COOLDOWN"`
	Lifetime             time.Duration    `yaml:"lifetime" env:"LIFETIME"`
	DisableFeedCharm     bool             `yaml:"disable_feed_charm" env:"DISABLE_FEED_CHARM"`
	RandomizeVisualBuffs bool             `yaml:"randomize_visual_buffs" env:"RANDOMIZE_VISUAL_BUFFS"`
	VisualBuffs          []types.PrefabID `yaml:"visual_buffs" env:"VISUAL_BUFFS" envSeparator:","`
	RespectTerritory     bool             `yaml:"respect_territory" env:"RESPECT_TERRITORY"`
	SpawnMinRange        float64          `yaml:"spawn_min_range" env:"SPAWN_MIN_RANGE"`
	SpawnMaxRange        float64          `yaml:"spawn_max_range" env:"SPAWN_MAX_RANGE"`
}

// EliteSettings scales tier-5 squads of the listed factions
type EliteSettings struct {
	Enabled  bool                  `yaml:"enabled" env:"ENABLED"`
	Factions []types.FactionID     `yaml:"factions" env:"FACTIONS" envSeparator:","`
	Squad    types.StatMultipliers `yaml:"squad"`
	// representative stat = squad stat * RepresentativeRatio + RepresentativeAdditive
	RepresentativeRatio    float64 `yaml:"representative_ratio" env:"REPRESENTATIVE_RATIO"`
	RepresentativeAdditive float64 `yaml:"representative_additive" env:"REPRESENTATIVE_ADDITIVE"`
}

// SeasonalSettings adds Halloween scarecrows to tier-5 squads
type SeasonalSettings struct {
	Halloween             bool           `yaml:"halloween" env:"HALLOWEEN"`
	ScarecrowTemplate     types.PrefabID `yaml:"scarecrow_template" env:"SCARECROW_TEMPLATE"`
	ScarecrowMinimum      int            `yaml:"scarecrow_minimum" env:"SCARECROW_MINIMUM"`
	ScarecrowMaximum      int            `yaml:"scarecrow_maximum" env:"SCARECROW_MAXIMUM"`
	RareChancePercent     int            `yaml:"rare_chance_percent" env:"RARE_CHANCE_PERCENT"`
	RareMultiplier        int            `yaml:"rare_multiplier" env:"RARE_MULTIPLIER"`
	FollowUpChancePercent int            `yaml:"follow_up_chance_percent" env:"FOLLOW_UP_CHANCE_PERCENT"`
	FollowUpMinimum       int            `yaml:"follow_up_minimum" env:"FOLLOW_UP_MINIMUM"`
	FollowUpMaximum       int            `yaml:"follow_up_maximum" env:"FOLLOW_UP_MAXIMUM"`
	FollowUpDelay         time.Duration  `yaml:"follow_up_delay" env:"FOLLOW_UP_DELAY"`
}

// DuelSettings configures duel summoning
type DuelSettings struct {
	ArenaTemplate       types.PrefabID `yaml:"arena_template" env:"ARENA_TEMPLATE"`
	ConnectionBuff      types.PrefabID `yaml:"connection_buff" env:"CONNECTION_BUFF"`
	DefaultRadius       float64        `yaml:"default_radius" env:"DEFAULT_RADIUS"`
	SupplementalSpacing float64        `yaml:"supplemental_spacing" env:"SUPPLEMENTAL_SPACING"`
}

// PersistenceSettings selects and tunes the hate-table store
type PersistenceSettings struct {
	Backend      string        `yaml:"backend" env:"BACKEND"`
	Path         string        `yaml:"path" env:"PATH"`
	SaveInterval time.Duration `yaml:"save_interval" env:"SAVE_INTERVAL"`
	Backups      int           `yaml:"backups" env:"BACKUPS"`
}

// MetricsSettings controls the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Port    int  `yaml:"port" env:"PORT"`
}

// Settings is the raw, unclamped configuration
type Settings struct {
	Hate        HateSettings        `yaml:"hate" envPrefix:"HATE_"`
	Ambush      AmbushSettings      `yaml:"ambush" envPrefix:"AMBUSH_"`
	Elite       EliteSettings       `yaml:"elite" envPrefix:"ELITE_"`
	Seasonal    SeasonalSettings    `yaml:"seasonal" envPrefix:"SEASONAL_"`
	Duel        DuelSettings        `yaml:"duel" envPrefix:"DUEL_"`
	Persistence PersistenceSettings `yaml:"persistence" envPrefix:"PERSISTENCE_"`
	Metrics     MetricsSettings     `yaml:"metrics" envPrefix:"METRICS_"`
	CatalogPath string              `yaml:"catalog_path" env:"CATALOG_PATH"`
}

// Default returns the canonical default settings
func Default() Settings {
	return Settings{
		Hate: HateSettings{
			Maximum:        300,
			GainMultiplier: 1,
			DecayPerSecond: 0.5,
			CombatCooldown: 60 * time.Second,
			DecayInterval:  5 * time.Second,
			TierThresholds: []float64{0, 50, 100, 175, 250},
		},
		Ambush: AmbushSettings{
			ChancePercent:        40,
			MinimumHate:          50,
			Cooldown:             10 * time.Minute,
			Lifetime:             0,
			DisableFeedCharm:     true,
			RandomizeVisualBuffs: false,
			RespectTerritory:     true,
			SpawnMinRange:        8,
			SpawnMaxRange:        14,
		},
		Elite: EliteSettings{
			Enabled: false,
			Squad: types.StatMultipliers{
				Health:              1.5,
				DamageReduction:     1.2,
				Resistance:          1.2,
				Power:               1.3,
				Speed:               1.1,
				KnockbackResistance: 1.5,
			},
			RepresentativeRatio:    1.5,
			RepresentativeAdditive: 0.25,
		},
		Seasonal: SeasonalSettings{
			Halloween:             false,
			ScarecrowTemplate:     -1750347680,
			ScarecrowMinimum:      1,
			ScarecrowMaximum:      3,
			RareChancePercent:     10,
			RareMultiplier:        2,
			FollowUpChancePercent: 25,
			FollowUpMinimum:       2,
			FollowUpMaximum:       4,
			FollowUpDelay:         20 * time.Second,
		},
		Duel: DuelSettings{
			ArenaTemplate:       1000001,
			ConnectionBuff:      1000002,
			DefaultRadius:       20,
			SupplementalSpacing: 40,
		},
		Persistence: PersistenceSettings{
			Backend:      "file",
			Path:         "data/hate.json",
			SaveInterval: 2 * time.Minute,
			Backups:      5,
		},
		Metrics: MetricsSettings{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Load reads path over Default() and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := ApplyEnv(&s); err != nil {
		return s, err
	}
	return s, nil
}

// ApplyEnv overrides s with any AMBUSHD_* variables that are set
func ApplyEnv(s *Settings) error {
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
