package session

import (
	"errors"
	"math/rand"

	"moltyagent.ai/internal/classify"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
)

type Config struct {
	Timings Timings
	// RetryCandidatesAfterRateLimit keeps trying the remaining candidates
	// with the refreshed address instead of ending the discovery pass.
	RetryCandidatesAfterRateLimit bool
	// Free reports whether a listed match can be joined. Defaults to
	// free-entry matches only.
	Free func(gameapi.Game) bool
}

// Machine is not safe for concurrent use; each loop owns one.
type Machine struct {
	dial   Dialer
	api    API
	active ActiveIdentity

	phase   Phase
	session Session

	cfg Config
	ev  *events.Emitter
	rng *rand.Rand
}

func NewMachine(dial Dialer, id identity.Identity, cfg Config, ev *events.Emitter, rng *rand.Rand) *Machine {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Free == nil {
		cfg.Free = func(g gameapi.Game) bool { return g.EntryType == gameapi.EntryFree }
	}
	m := &Machine{dial: dial, cfg: cfg, ev: ev, rng: rng}
	m.bind(id, fillNetwork(id.Credentials(), rng))
	ev.SetAccount(id.Name)
	return m
}

func (m *Machine) Phase() Phase           { return m.phase }
func (m *Machine) Session() Session       { return m.session }
func (m *Machine) Active() ActiveIdentity { return m.active }

// SwapIdentity replaces the active identity. The session is cleared first so
// the new identity always starts in discovery.
func (m *Machine) SwapIdentity(id identity.Identity) {
	prev := m.active.Name()
	m.clear("identity swap")
	m.bind(id, fillNetwork(id.Credentials(), m.rng))
	m.ev.SetAccount(id.Name)
	m.ev.Emit(events.KindIdentity, "Switching current session to: "+id.Name, map[string]any{
		"from":       prev,
		"to":         id.Name,
		"account_id": id.AccountID,
	})
}

// RefreshNetwork draws a new simulated address and user agent for the
// active identity.
func (m *Machine) RefreshNetwork() {
	creds := m.active.Creds.RefreshNetwork(m.rng)
	m.bind(m.active.Identity, creds)
	m.ev.Emit(events.KindNetwork, "Spoofing IP: "+creds.Address, map[string]any{"user_agent": shortUA(creds.UserAgent)})
}

func (m *Machine) bind(id identity.Identity, creds gameapi.Credentials) {
	m.active = ActiveIdentity{Identity: id.WithCredentials(creds), Creds: creds}
	m.api = m.dial(creds)
}

func (m *Machine) setPhase(p Phase) {
	if m.phase == p {
		return
	}
	from := m.phase
	m.phase = p
	m.ev.Emit(events.KindPhase, p.String(), map[string]any{"from": from.String()})
}

// adopt installs a new session pair. Any previous session is cleared first.
func (m *Machine) adopt(gameID, agentID, how string) bool {
	if gameID == "" || agentID == "" {
		return false
	}
	if !m.session.Empty() {
		m.clear("replaced")
	}
	m.session = Session{GameID: gameID, AgentID: agentID}
	m.ev.Emit(events.KindAdopt, how, map[string]any{"game_id": gameID, "agent_id": agentID})
	m.setPhase(Playing)
	return true
}

func (m *Machine) clear(reason string) {
	if m.session.Empty() {
		m.setPhase(Discovering)
		return
	}
	old := m.session
	m.session = Session{}
	m.ev.Emit(events.KindClear, reason, map[string]any{"game_id": old.GameID, "agent_id": old.AgentID})
	m.setPhase(Discovering)
}

func (m *Machine) failure(op string, err error) classify.Classification {
	c := classify.Classify(err)
	data := map[string]any{"class": c.String()}
	var f *gameapi.Failure
	if errors.As(err, &f) && !gameapi.IsKnownCode(f.Code) {
		data["unknown_code"] = f.Code
	}
	m.ev.Emit(events.KindFailure, op+": "+err.Error(), data)
	return c
}

func fillNetwork(c gameapi.Credentials, r *rand.Rand) gameapi.Credentials {
	if c.Address == "" {
		c.Address = gameapi.RandomPublicIP(r)
	}
	if c.UserAgent == "" {
		c.UserAgent = gameapi.RandomUserAgent(r)
	}
	return c
}

func shortUA(ua string) string {
	if len(ua) > 30 {
		return ua[:30] + "..."
	}
	return ua
}
