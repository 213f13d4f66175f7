package strategy

import (
	"fmt"
	"strings"

	"moltyagent.ai/internal/gameapi"
)

// Thresholds parameterize the default rules.
type Thresholds struct {
	LowEnergy    int      `yaml:"low_energy"`
	AttackEnergy int      `yaml:"attack_energy"`
	MinEnergy    int      `yaml:"min_energy"`
	HealFraction float64  `yaml:"heal_fraction"`
	InventoryCap int      `yaml:"inventory_cap"`
	Restorative  string   `yaml:"restorative"`
	Healing      []string `yaml:"healing"`
	Currency     []string `yaml:"currency"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LowEnergy:    5,
		AttackEnergy: 2,
		MinEnergy:    1,
		HealFraction: 0.4,
		InventoryCap: 10,
		Restorative:  "energy_drink",
		Healing:      []string{"medkit", "bandage", "emergency_food"},
		Currency:     []string{"$Moltz", "Moltz"},
	}
}

// Situation is what a rule sees: the snapshot, the match catalogue and the
// thresholds. Rules must not modify it.
type Situation struct {
	State     gameapi.AgentState
	Catalogue Catalogue
	T         Thresholds
}

// Rule is one step of the cascade. Decide returns ok=false to pass.
type Rule struct {
	Name   string
	Decide func(s Situation) (Intent, bool)
}

// Engine evaluates its rules in order; the first that fires wins. The
// last rule must always fire.
type Engine struct {
	rules []Rule
	t     Thresholds
}

func New(t Thresholds) *Engine {
	return &Engine{rules: DefaultRules(), t: t}
}

// NewWithRules builds an engine over a custom cascade.
func NewWithRules(t Thresholds, rules []Rule) *Engine {
	return &Engine{rules: rules, t: t}
}

func (e *Engine) Thresholds() Thresholds { return e.t }

func (e *Engine) Decide(state gameapi.AgentState, cat Catalogue) Intent {
	s := Situation{State: state, Catalogue: cat, T: e.t}
	for _, r := range e.rules {
		if in, ok := r.Decide(s); ok {
			in.Rule = r.Name
			return in
		}
	}
	return Intent{Type: ActionRest, Rationale: "No rule applied.", Planned: "Rest", Rule: "none"}
}

func DefaultRules() []Rule {
	return []Rule{
		{Name: "upgrade_gear", Decide: upgradeGear},
		{Name: "restore_energy", Decide: restoreEnergy},
		{Name: "engage_agents", Decide: engageAgents},
		{Name: "emergency_heal", Decide: emergencyHeal},
		{Name: "hunt_monsters", Decide: huntMonsters},
		{Name: "loot", Decide: loot},
		{Name: "explore_or_rest", Decide: exploreOrRest},
	}
}

func upgradeGear(s Situation) (Intent, bool) {
	self := s.State.Self
	var best *gameapi.Item
	for i := range self.Inventory {
		it := &self.Inventory[i]
		if it.Category != gameapi.CategoryWeapon || !s.Catalogue.Upgrades(it.Name, self.EquippedWeapon) {
			continue
		}
		if best == nil || Dominates(s.Catalogue.statsOrUnknown(it.Name), s.Catalogue.statsOrUnknown(best.Name)) {
			best = it
		}
	}
	if best == nil {
		return Intent{}, false
	}
	return Intent{
		Type:      ActionEquip,
		Target:    &Target{ID: best.ID, Kind: TargetItem, Name: best.Name},
		Rationale: fmt.Sprintf("Found better weapon in inventory: %s. Equipping for maximum damage.", best.Name),
		Planned:   "Equip",
	}, true
}

func restoreEnergy(s Situation) (Intent, bool) {
	self := s.State.Self
	if self.EP >= s.T.LowEnergy {
		return Intent{}, false
	}
	it, ok := findItem(self.Inventory, s.T.Restorative)
	if !ok {
		return Intent{}, false
	}
	return Intent{
		Type:      ActionUseItem,
		Target:    &Target{ID: it.ID, Kind: TargetItem, Name: it.Name},
		Rationale: fmt.Sprintf("EP below %d. Using %s to stay active.", s.T.LowEnergy, it.Name),
		Planned:   "Restore Energy",
	}, true
}

func engageAgents(s Situation) (Intent, bool) {
	if s.State.Self.EP < s.T.AttackEnergy || len(s.State.VisibleAgents) == 0 {
		return Intent{}, false
	}
	target := s.State.VisibleAgents[0]
	for _, a := range s.State.VisibleAgents[1:] {
		if a.HP < target.HP {
			target = a
		}
	}
	return Intent{
		Type:      ActionAttack,
		Target:    &Target{ID: target.ID, Kind: TargetAgent, Name: target.Name},
		Rationale: fmt.Sprintf("Targeting agent %s (%d HP). Priority: Player Elimination.", target.Name, target.HP),
		Planned:   "Attack",
	}, true
}

func emergencyHeal(s Situation) (Intent, bool) {
	self := s.State.Self
	if float64(self.HP) >= float64(self.MaxHP)*s.T.HealFraction || self.EP < s.T.MinEnergy {
		return Intent{}, false
	}
	for _, name := range s.T.Healing {
		it, ok := findItem(self.Inventory, name)
		if !ok {
			continue
		}
		return Intent{
			Type:      ActionUseItem,
			Target:    &Target{ID: it.ID, Kind: TargetItem, Name: it.Name},
			Rationale: fmt.Sprintf("HP below %.0f%%. Using %s for tactical recovery.", s.T.HealFraction*100, it.Name),
			Planned:   "Heal",
		}, true
	}
	return Intent{}, false
}

func huntMonsters(s Situation) (Intent, bool) {
	st := s.State
	if st.Self.EP < s.T.AttackEnergy || len(st.VisibleMonsters) == 0 || len(st.VisibleAgents) > 0 {
		return Intent{}, false
	}
	m := st.VisibleMonsters[0]
	return Intent{
		Type:      ActionAttack,
		Target:    &Target{ID: m.ID, Kind: TargetMonster, Name: m.Name},
		Rationale: fmt.Sprintf("No agents nearby. Hunting %s for loot/stats.", m.Name),
		Planned:   "Attack",
	}, true
}

func loot(s Situation) (Intent, bool) {
	st := s.State
	if len(st.VisibleItems) == 0 || len(st.Self.Inventory) >= s.T.InventoryCap {
		return Intent{}, false
	}
	pick := func(it gameapi.Item, why string) (Intent, bool) {
		return Intent{
			Type:      ActionPickup,
			Target:    &Target{ID: it.ID, Kind: TargetItem, Name: it.Name},
			Rationale: why,
			Planned:   "Pickup",
		}, true
	}
	for _, vi := range st.VisibleItems {
		if isCurrency(vi.Item.Name, s.T.Currency) {
			return pick(vi.Item, "Spotted Moltz currency. Collecting while clear.")
		}
	}
	for _, vi := range st.VisibleItems {
		if vi.Item.Category == gameapi.CategoryWeapon && s.Catalogue.Upgrades(vi.Item.Name, st.Self.EquippedWeapon) {
			return pick(vi.Item, fmt.Sprintf("Looting better gear: %s.", vi.Item.Name))
		}
	}
	for _, vi := range st.VisibleItems {
		if vi.Item.Category != gameapi.CategoryWeapon {
			return pick(vi.Item, "Cleaning up nearby loot.")
		}
	}
	return Intent{}, false
}

func exploreOrRest(s Situation) (Intent, bool) {
	if s.State.Self.EP >= s.T.MinEnergy {
		return Intent{Type: ActionExplore, Rationale: "Active sweep for targets and loot.", Planned: "Explore"}, true
	}
	return Intent{Type: ActionRest, Rationale: "Recovering Energy for next engagement.", Planned: "Rest"}, true
}

func findItem(inv []gameapi.Item, name string) (gameapi.Item, bool) {
	for _, it := range inv {
		if strings.EqualFold(it.Name, name) {
			return it, true
		}
	}
	return gameapi.Item{}, false
}

func isCurrency(name string, currency []string) bool {
	for _, c := range currency {
		if name == c {
			return true
		}
	}
	return false
}
