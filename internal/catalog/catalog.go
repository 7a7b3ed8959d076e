// Package catalog holds the per-faction, per-tier unit lists ambush squads
// are composed from. The catalog is data: a YAML file or the built-in
// default.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// MaxTier is the highest ambush tier
const MaxTier = 5

// ErrInvalidCatalog is returned for catalogs with out-of-range entries
var ErrInvalidCatalog = errors.New("invalid unit catalog")

// Unit is one catalog line: Count copies of Template
type Unit struct {
	Template types.PrefabID `yaml:"template"`
	Count    int            `yaml:"count"`
}

// file is the on-disk layout
//
//	factions:
//	  bandits:
//	    1: [{template: -1030822544, count: 2}]
type file struct {
	Factions map[types.FactionID]map[int][]Unit `yaml:"factions"`
}

// Catalog maps faction -> tier -> ordered units
type Catalog struct {
	factions map[types.FactionID]map[int][]Unit
}

// Load reads a YAML catalog from path
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return New(f.Factions)
}

// New validates and copies a faction table
func New(factions map[types.FactionID]map[int][]Unit) (*Catalog, error) {
	c := &Catalog{factions: make(map[types.FactionID]map[int][]Unit, len(factions))}
	for faction, tiers := range factions {
		if faction == "" {
			return nil, fmt.Errorf("%w: empty faction name", ErrInvalidCatalog)
		}
		c.factions[faction] = make(map[int][]Unit, len(tiers))
		for tier, units := range tiers {
			if tier < 1 || tier > MaxTier {
				return nil, fmt.Errorf("%w: %s tier %d outside 1..%d", ErrInvalidCatalog, faction, tier, MaxTier)
			}
			for _, u := range units {
				if u.Count < 1 {
					return nil, fmt.Errorf("%w: %s tier %d template %d count %d", ErrInvalidCatalog, faction, tier, u.Template, u.Count)
				}
			}
			c.factions[faction][tier] = append([]Unit(nil), units...)
		}
	}
	return c, nil
}

// Units returns the units for faction at tier. A tier with no entry falls
// back to the closest lower tier; an unknown faction yields nil.
func (c *Catalog) Units(faction types.FactionID, tier int) []Unit {
	tiers, ok := c.factions[faction]
	if !ok {
		return nil
	}
	if tier > MaxTier {
		tier = MaxTier
	}
	for t := tier; t >= 1; t-- {
		if units, ok := tiers[t]; ok && len(units) > 0 {
			return append([]Unit(nil), units...)
		}
	}
	return nil
}

// Factions lists known factions in name order
func (c *Catalog) Factions() []types.FactionID {
	out := make([]types.FactionID, 0, len(c.factions))
	for f := range c.factions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
