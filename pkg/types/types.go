// Package types defines the value types shared by the spawn-correlation and
// hate/ambush subsystems.
package types

import (
	"math"
	"time"
)

// Entity is an opaque host entity handle
type Entity uint64

// PlayerID identifies a player across sessions (persistence key)
type PlayerID uint64

// FactionID identifies a hostile faction
type FactionID string

// PrefabID identifies a unit, buff or structure template in the host catalog
type PrefabID int64

// Vec3 is a world position or direction
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns v + o
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * s
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Len returns the euclidean length
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// DistanceTo returns |v - o|
func (v Vec3) DistanceTo(o Vec3) float64 { return v.Sub(o).Len() }

// Flat drops the vertical component
func (v Vec3) Flat() Vec3 { return Vec3{X: v.X, Z: v.Z} }

// Normalize returns the unit vector of v, or fallback when v is degenerate
func (v Vec3) Normalize(fallback Vec3) Vec3 {
	l := v.Len()
	if l < 1e-4 || math.IsNaN(l) || math.IsInf(l, 0) {
		return fallback
	}
	return v.Scale(1 / l)
}

// SpawnRequest is one submission to the host's spawn primitive.
// Lifetime is the numeric side channel carried onto every spawned entity.
type SpawnRequest struct {
	Template PrefabID
	Position Vec3
	Count    int
	MinRange float64
	MaxRange float64
	Lifetime float64
}

// StatMultipliers scales a spawned unit's combat stats
type StatMultipliers struct {
	Health              float64 `json:"health" yaml:"health"`
	DamageReduction     float64 `json:"damage_reduction" yaml:"damage_reduction"`
	Resistance          float64 `json:"resistance" yaml:"resistance"`
	Power               float64 `json:"power" yaml:"power"`
	Speed               float64 `json:"speed" yaml:"speed"`
	KnockbackResistance float64 `json:"knockback_resistance" yaml:"knockback_resistance"`
}

// Identity leaves every stat unchanged
func Identity() StatMultipliers {
	return StatMultipliers{1, 1, 1, 1, 1, 1}
}

// Mul multiplies component-wise
func (m StatMultipliers) Mul(o StatMultipliers) StatMultipliers {
	return StatMultipliers{
		Health:              m.Health * o.Health,
		DamageReduction:     m.DamageReduction * o.DamageReduction,
		Resistance:          m.Resistance * o.Resistance,
		Power:               m.Power * o.Power,
		Speed:               m.Speed * o.Speed,
		KnockbackResistance: m.KnockbackResistance * o.KnockbackResistance,
	}
}

// IsIdentity reports whether applying m would change nothing
func (m StatMultipliers) IsIdentity() bool {
	return m == Identity()
}

// HateRecord is the per-(player, faction) hate state
type HateRecord struct {
	Hate            float64   `json:"hate"`
	LastCombatStart time.Time `json:"last_combat_start"`
	LastCombatEnd   time.Time `json:"last_combat_end"`
	LastAmbush      time.Time `json:"last_ambush"`
}

// IsZero reports whether the record carries no state worth persisting
func (r HateRecord) IsZero() bool {
	return r.Hate <= 0 && r.LastAmbush.IsZero()
}

// SnapshotData is the persisted hate table
type SnapshotData struct {
	Players   map[PlayerID]map[FactionID]*HateRecord `json:"players"`
	SchemaVer int                                    `json:"schema_ver"`
	SavedAt   time.Time                              `json:"saved_at"`
}

// NewSnapshotData returns an empty table at the current schema version
func NewSnapshotData() SnapshotData {
	return SnapshotData{
		Players:   make(map[PlayerID]map[FactionID]*HateRecord),
		SchemaVer: 1,
	}
}

// RecordCount returns the number of (player, faction) records
func (d SnapshotData) RecordCount() int {
	n := 0
	for _, factions := range d.Players {
		n += len(factions)
	}
	return n
}
