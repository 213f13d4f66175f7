package strategy

import (
	"reflect"
	"testing"

	"moltyagent.ai/internal/gameapi"
)

func testCatalogue() Catalogue {
	return NewCatalogue([]gameapi.Weapon{
		{Name: "Knife", AtkBonus: 2, Range: 1},
		{Name: "Sword", AtkBonus: 5, Range: 1},
		{Name: "Spear", AtkBonus: 5, Range: 2},
		{Name: "Bow", AtkBonus: 3, Range: 3},
	})
}

func baseState() gameapi.AgentState {
	return gameapi.AgentState{
		Self: gameapi.Self{
			ID: "me", Name: "Narto_1", HP: 90, MaxHP: 100, EP: 8, MaxEP: 10, IsAlive: true,
			EquippedWeapon: &gameapi.Weapon{Name: "Knife", AtkBonus: 2, Range: 1},
		},
		CurrentRegion: gameapi.Region{Name: "Forest"},
		GameStatus:    gameapi.StatusRunning,
	}
}

func weapon(id, name string) gameapi.Item {
	return gameapi.Item{ID: id, Name: name, Category: gameapi.CategoryWeapon}
}

func consumable(id, name string) gameapi.Item {
	return gameapi.Item{ID: id, Name: name, Category: gameapi.CategoryConsumable}
}

func decide(st gameapi.AgentState) Intent {
	return New(DefaultThresholds()).Decide(st, testCatalogue())
}

func TestDecide_EquipBeatsEnergyRestore(t *testing.T) {
	st := baseState()
	st.Self.EP = 4
	st.Self.Inventory = []gameapi.Item{consumable("d1", "energy_drink"), weapon("w1", "Sword")}
	st.VisibleAgents = []gameapi.VisibleAgent{{ID: "a2", Name: "foe", HP: 10}}

	in := decide(st)
	if in.Type != ActionEquip || in.Target == nil || in.Target.ID != "w1" {
		t.Fatalf("intent=%+v", in)
	}
	if in.Rule != "upgrade_gear" || in.Planned != "Equip" {
		t.Fatalf("rule=%s planned=%s", in.Rule, in.Planned)
	}
}

func TestDecide_EquipsBestDominatingWeapon(t *testing.T) {
	st := baseState()
	st.Self.Inventory = []gameapi.Item{weapon("w1", "Sword"), weapon("w2", "Bow"), weapon("w3", "spear"), weapon("w4", "Mystery Blade")}
	in := decide(st)
	if in.Type != ActionEquip || in.Target.ID != "w3" {
		t.Fatalf("expected spear (tie on atk, longer range), got %+v", in.Target)
	}
}

func TestDecide_UnknownWeaponIsNeverAnUpgrade(t *testing.T) {
	st := baseState()
	st.Self.EquippedWeapon = nil
	st.Self.Inventory = []gameapi.Item{weapon("w4", "Mystery Blade")}
	if in := decide(st); in.Type == ActionEquip {
		t.Fatalf("equipped unknown weapon: %+v", in)
	}

	// Any catalogued weapon beats bare hands.
	st.Self.Inventory = append(st.Self.Inventory, weapon("w1", "Knife"))
	if in := decide(st); in.Type != ActionEquip || in.Target.ID != "w1" {
		t.Fatalf("intent=%+v", in)
	}
}

func TestDecide_EnergyRestoreBeatsAttackAndExplore(t *testing.T) {
	st := baseState()
	st.Self.EP = 4
	st.Self.Inventory = []gameapi.Item{consumable("d1", "Energy_Drink")}
	st.VisibleAgents = []gameapi.VisibleAgent{{ID: "a2", HP: 10}}
	in := decide(st)
	if in.Type != ActionUseItem || in.Target.ID != "d1" {
		t.Fatalf("intent=%+v", in)
	}

	st.VisibleAgents = nil
	if in := decide(st); in.Type != ActionUseItem {
		t.Fatalf("expected restore over explore, got %+v", in)
	}

	st.Self.EP = 5
	st.VisibleAgents = []gameapi.VisibleAgent{{ID: "a2", HP: 10}}
	if in := decide(st); in.Type != ActionAttack {
		t.Fatalf("ep at threshold should attack, got %+v", in)
	}
}

func TestDecide_AttackLowestHPFirstIndexTie(t *testing.T) {
	st := baseState()
	st.VisibleAgents = []gameapi.VisibleAgent{
		{ID: "a1", HP: 50},
		{ID: "a2", HP: 20},
		{ID: "a3", HP: 20},
		{ID: "a4", HP: 70},
	}
	in := decide(st)
	if in.Type != ActionAttack || in.Target.ID != "a2" || in.Target.Kind != TargetAgent {
		t.Fatalf("intent=%+v target=%+v", in, in.Target)
	}
	if st.VisibleAgents[0].ID != "a1" {
		t.Fatalf("snapshot was reordered")
	}
	a := in.Action()
	if a.TargetID != "a2" || a.TargetType != "agent" || a.ItemID != "" {
		t.Fatalf("wire action=%+v", a)
	}
}

func TestDecide_AttackNeedsEnergy(t *testing.T) {
	st := baseState()
	st.Self.EP = 1
	st.VisibleAgents = []gameapi.VisibleAgent{{ID: "a1", HP: 5}}
	if in := decide(st); in.Type != ActionExplore {
		t.Fatalf("intent=%+v", in)
	}
}

func TestDecide_EmergencyHealPreference(t *testing.T) {
	st := baseState()
	st.Self.HP = 39
	st.Self.Inventory = []gameapi.Item{consumable("f", "emergency_food"), consumable("b", "bandage"), consumable("m", "medkit")}
	in := decide(st)
	if in.Type != ActionUseItem || in.Target.ID != "m" || in.Planned != "Heal" {
		t.Fatalf("intent=%+v", in)
	}

	st.Self.Inventory = st.Self.Inventory[:2]
	if in := decide(st); in.Target == nil || in.Target.ID != "b" {
		t.Fatalf("intent=%+v", in)
	}

	st.Self.HP = 40
	if in := decide(st); in.Type != ActionExplore {
		t.Fatalf("40%% is not below threshold, got %+v", in)
	}

	st.Self.HP = 10
	st.Self.EP = 0
	if in := decide(st); in.Type != ActionRest {
		t.Fatalf("heal needs energy, got %+v", in)
	}
}

func TestDecide_HuntMonstersOnlyWithoutAgents(t *testing.T) {
	st := baseState()
	st.VisibleMonsters = []gameapi.VisibleMonster{{ID: "m1", Name: "Wolf", HP: 5}, {ID: "m2", HP: 1}}
	in := decide(st)
	if in.Type != ActionAttack || in.Target.ID != "m1" || in.Target.Kind != TargetMonster {
		t.Fatalf("intent=%+v", in)
	}
}

func TestDecide_LootOrder(t *testing.T) {
	st := baseState()
	st.VisibleItems = []gameapi.VisibleItem{
		{Item: consumable("c1", "bandage")},
		{Item: weapon("w1", "Sword")},
		{Item: gameapi.Item{ID: "$", Name: "$Moltz", Category: gameapi.CategoryCurrency}},
	}
	if in := decide(st); in.Type != ActionPickup || in.Target.ID != "$" {
		t.Fatalf("currency first, got %+v", in)
	}

	st.VisibleItems = st.VisibleItems[:2]
	if in := decide(st); in.Target == nil || in.Target.ID != "w1" {
		t.Fatalf("better weapon second, got %+v", in)
	}

	st.VisibleItems = st.VisibleItems[:1]
	if in := decide(st); in.Target == nil || in.Target.ID != "c1" {
		t.Fatalf("non-weapon third, got %+v", in)
	}

	// A worse weapon alone is not worth picking up.
	st.VisibleItems = []gameapi.VisibleItem{{Item: weapon("w0", "Knife")}}
	if in := decide(st); in.Type != ActionExplore {
		t.Fatalf("intent=%+v", in)
	}

	// Full inventory skips looting.
	st.VisibleItems = []gameapi.VisibleItem{{Item: consumable("c1", "bandage")}}
	for i := 0; i < 10; i++ {
		st.Self.Inventory = append(st.Self.Inventory, consumable("x", "rock"))
	}
	if in := decide(st); in.Type != ActionExplore {
		t.Fatalf("intent=%+v", in)
	}
}

func TestDecide_Fallback(t *testing.T) {
	st := baseState()
	st.Self.EP = 1
	if in := decide(st); in.Type != ActionExplore || in.Target != nil {
		t.Fatalf("intent=%+v", in)
	}
	st.Self.EP = 0
	if in := decide(st); in.Type != ActionRest {
		t.Fatalf("intent=%+v", in)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	st := baseState()
	st.Self.Inventory = []gameapi.Item{weapon("w2", "Bow"), consumable("m", "medkit")}
	st.VisibleAgents = []gameapi.VisibleAgent{{ID: "a1", HP: 3}, {ID: "a2", HP: 3}}
	st.VisibleItems = []gameapi.VisibleItem{{Item: gameapi.Item{ID: "$", Name: "Moltz"}}}
	first := decide(st)
	for i := 0; i < 20; i++ {
		if got := decide(st); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestActionClass(t *testing.T) {
	for _, a := range []ActionType{ActionEquip, ActionPickup} {
		if a.Class() != Minor {
			t.Fatalf("%s should be minor", a)
		}
	}
	for _, a := range []ActionType{ActionMove, ActionExplore, ActionAttack, ActionUseItem, ActionInteract, ActionRest} {
		if a.Class() != Major {
			t.Fatalf("%s should be major", a)
		}
	}
}

func TestCustomRuleCascade(t *testing.T) {
	always := Rule{Name: "always_rest", Decide: func(Situation) (Intent, bool) {
		return Intent{Type: ActionRest}, true
	}}
	e := NewWithRules(DefaultThresholds(), []Rule{always})
	if in := e.Decide(baseState(), nil); in.Rule != "always_rest" {
		t.Fatalf("intent=%+v", in)
	}
}
