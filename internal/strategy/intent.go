// Package strategy turns one world snapshot into one action.
package strategy

import "moltyagent.ai/internal/gameapi"

type ActionType string

const (
	ActionEquip    ActionType = "equip"
	ActionUseItem  ActionType = "use_item"
	ActionAttack   ActionType = "attack"
	ActionPickup   ActionType = "pickup"
	ActionExplore  ActionType = "explore"
	ActionRest     ActionType = "rest"
	ActionMove     ActionType = "move"
	ActionInteract ActionType = "interact"
)

type TargetKind string

const (
	TargetItem    TargetKind = "item"
	TargetAgent   TargetKind = "agent"
	TargetMonster TargetKind = "monster"
)

type Target struct {
	ID   string
	Kind TargetKind
	Name string
}

// Intent is the engine's decision. Rule names the rule that produced it and
// Planned is the short label submitted alongside the rationale.
type Intent struct {
	Type      ActionType
	Target    *Target
	Rationale string
	Planned   string
	Rule      string
}

// Class is the cooldown class of an action.
type Class int

const (
	Major Class = iota
	Minor
)

// Class reports Minor for the inventory actions the server does not put on
// cooldown.
func (t ActionType) Class() Class {
	switch t {
	case ActionEquip, ActionPickup:
		return Minor
	}
	return Major
}

// Action renders the intent in wire form.
func (i Intent) Action() gameapi.Action {
	a := gameapi.Action{Type: string(i.Type)}
	if i.Target == nil {
		return a
	}
	switch i.Target.Kind {
	case TargetItem:
		a.ItemID = i.Target.ID
	default:
		a.TargetID = i.Target.ID
		a.TargetType = string(i.Target.Kind)
	}
	return a
}

func (i Intent) Thought() *gameapi.Thought {
	return &gameapi.Thought{Reasoning: i.Rationale, PlannedAction: i.Planned}
}
