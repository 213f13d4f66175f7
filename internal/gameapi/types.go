package gameapi

import "encoding/json"

// GameStatus is the lifecycle status of a match.
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusRunning  GameStatus = "running"
	StatusFinished GameStatus = "finished"
)

// EntryFree marks matches that can be joined without an entry fee.
const EntryFree = "free"

// Item categories.
const (
	CategoryWeapon     = "weapon"
	CategoryConsumable = "consumable"
	CategoryCurrency   = "currency"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Game struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Status     GameStatus `json:"status,omitempty"`
	EntryType  string     `json:"entryType,omitempty"`
	AgentCount int        `json:"agentCount,omitempty"`
	MaxAgents  int        `json:"maxAgents,omitempty"`
}

// Registration is the seat handed out by register-agent.
type Registration struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SpectatorAgent is an agent as seen from the public match view.
type SpectatorAgent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAlive bool   `json:"isAlive"`
	HP      int    `json:"hp,omitempty"`
	Kills   int    `json:"kills,omitempty"`
}

type SpectatorState struct {
	GameID string           `json:"gameId,omitempty"`
	Status GameStatus       `json:"status"`
	Agents []SpectatorAgent `json:"agents"`
}

// AgentByName returns the first agent with the given display name.
func (s SpectatorState) AgentByName(name string) (SpectatorAgent, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return SpectatorAgent{}, false
}

type Weapon struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	AtkBonus int    `json:"atkBonus"`
	Range    int    `json:"range"`
}

type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Self struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	HP             int     `json:"hp"`
	MaxHP          int     `json:"maxHp"`
	EP             int     `json:"ep"`
	MaxEP          int     `json:"maxEp"`
	Kills          int     `json:"kills"`
	IsAlive        bool    `json:"isAlive"`
	EquippedWeapon *Weapon `json:"equippedWeapon,omitempty"`
	Inventory      []Item  `json:"inventory"`
}

type Region struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type VisibleAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	HP   int    `json:"hp"`
}

type VisibleMonster struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	HP   int    `json:"hp"`
}

type VisibleItem struct {
	Item     Item   `json:"item"`
	RegionID string `json:"regionId,omitempty"`
}

// AgentState is the per-tick world snapshot for one seat. It is read-only
// for consumers and replaced on every fetch.
type AgentState struct {
	Self            Self             `json:"self"`
	CurrentRegion   Region           `json:"currentRegion"`
	GameStatus      GameStatus       `json:"gameStatus"`
	AgentCount      int              `json:"agentCount,omitempty"`
	VisibleAgents   []VisibleAgent   `json:"visibleAgents"`
	VisibleMonsters []VisibleMonster `json:"visibleMonsters"`
	VisibleItems    []VisibleItem    `json:"visibleItems"`
}

type ItemCatalogue struct {
	Weapons     []Weapon         `json:"weapons"`
	Consumables []CatalogueEntry `json:"consumables,omitempty"`
}

type CatalogueEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Action is the wire form of one decision.
type Action struct {
	Type       string `json:"type"`
	ItemID     string `json:"itemId,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	TargetType string `json:"targetType,omitempty"`
}

type Thought struct {
	Reasoning     string `json:"reasoning"`
	PlannedAction string `json:"plannedAction"`
}

type actRequest struct {
	Action  Action   `json:"action"`
	Thought *Thought `json:"thought,omitempty"`
}

type ActResult struct {
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

type Account struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	APIKey    string `json:"apiKey"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type Profile struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	Balance          int64  `json:"balance"`
	TotalGames       int    `json:"totalGames"`
	TotalWins        int    `json:"totalWins"`
	VerificationCode string `json:"verificationCode,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
}

type Transaction struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}
