package strategy

import (
	"strings"

	"moltyagent.ai/internal/gameapi"
)

// Stats is what the engine compares weapons on.
type Stats struct {
	AtkBonus int
	Range    int
}

// unknownStats is assumed for weapons missing from the catalogue.
var unknownStats = Stats{AtkBonus: 0, Range: 1}

// Dominates reports whether a is strictly better than b: higher attack
// bonus, or equal attack bonus and longer range.
func Dominates(a, b Stats) bool {
	if a.AtkBonus != b.AtkBonus {
		return a.AtkBonus > b.AtkBonus
	}
	return a.Range > b.Range
}

// Catalogue indexes weapons by lower-case name for the current match.
type Catalogue map[string]Stats

func NewCatalogue(weapons []gameapi.Weapon) Catalogue {
	c := make(Catalogue, len(weapons))
	for _, w := range weapons {
		c[strings.ToLower(w.Name)] = Stats{AtkBonus: w.AtkBonus, Range: w.Range}
	}
	return c
}

func (c Catalogue) Lookup(name string) (Stats, bool) {
	s, ok := c[strings.ToLower(name)]
	return s, ok
}

// statsOrUnknown is used when ranking weapons against each other.
func (c Catalogue) statsOrUnknown(name string) Stats {
	if s, ok := c.Lookup(name); ok {
		return s
	}
	return unknownStats
}

// Upgrades reports whether the named weapon beats what is equipped. A
// weapon the catalogue does not know is never an upgrade; anything known
// beats bare hands.
func (c Catalogue) Upgrades(name string, equipped *gameapi.Weapon) bool {
	s, ok := c.Lookup(name)
	if !ok {
		return false
	}
	if equipped == nil {
		return true
	}
	return Dominates(s, Stats{AtkBonus: equipped.AtkBonus, Range: equipped.Range})
}
