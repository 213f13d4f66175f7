package session

import (
	"context"
	"fmt"
	"time"

	"moltyagent.ai/internal/classify"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
)

// Outcome tells the caller how a discovery pass ended and how long to wait
// before the next call.
type Outcome struct {
	Established bool
	Wait        time.Duration
	Reason      string
}

// Discover runs one discovery pass. It is a no-op when a session is held.
func (m *Machine) Discover(ctx context.Context) Outcome {
	if !m.session.Empty() {
		m.setPhase(Playing)
		return Outcome{Established: true, Reason: "session held"}
	}
	m.setPhase(Discovering)
	name := m.active.Name()

	m.ev.Emit(events.KindDiscovery, "Checking for active sessions...", nil)
	seat, ok, err := FindSeat(ctx, m.api, name)
	if err != nil && !ok {
		m.ev.Emit(events.KindDiscovery, "Could not scan active sessions", map[string]any{"err": err.Error()})
	}
	if ok && m.adopt(seat.GameID, seat.AgentID, "Found active session. Resuming...") {
		return Outcome{Established: true, Reason: "resumed"}
	}
	if ctx.Err() != nil {
		return Outcome{Reason: "cancelled"}
	}

	candidates := m.candidates(ctx)
	if len(candidates) == 0 {
		m.ev.Emitf(events.KindDiscovery, "No games available to join. Retrying in %s...", m.cfg.Timings.NoGames)
		return Outcome{Wait: m.cfg.Timings.NoGames, Reason: "no games"}
	}

	m.setPhase(Registering)
	for _, g := range candidates {
		if ctx.Err() != nil {
			break
		}
		out, stop := m.tryCandidate(ctx, g)
		if stop {
			if !out.Established {
				m.setPhase(Discovering)
			}
			return out
		}
	}
	m.setPhase(Discovering)

	wait := Jitter(m.rng, m.cfg.Timings.DiscoveryRetry, m.cfg.Timings.DiscoveryRetryJitter)
	m.ev.Emitf(events.KindDiscovery, "Could not join any rooms. Retrying scan in %s...", wait.Round(time.Millisecond))
	return Outcome{Wait: wait, Reason: "no seat"}
}

// candidates lists free waiting matches, creating one when there are none.
func (m *Machine) candidates(ctx context.Context) []gameapi.Game {
	m.ev.Emit(events.KindDiscovery, "Looking for a game...", nil)
	games, err := m.api.ListGames(ctx, gameapi.StatusWaiting)
	if err != nil {
		m.failure("list waiting games", err)
	}
	free := m.filterFree(games)
	if len(games) > 0 {
		m.ev.Emitf(events.KindDiscovery, "Found %d waiting games (%d free).", len(games), len(free))
	}
	if len(free) > 0 {
		return free
	}

	m.ev.Emit(events.KindDiscovery, "No free waiting games found. Creating a new one...", nil)
	g, err := m.api.CreateGame(ctx)
	if err == nil {
		m.ev.Emit(events.KindDiscovery, "Game created: "+g.ID, nil)
		return []gameapi.Game{g}
	}
	if c := m.failure("create game", err); !c.Is(classify.Conflict, classify.ReasonWaitingGameExists) {
		return nil
	}
	games, err = m.api.ListGames(ctx, gameapi.StatusWaiting)
	if err != nil {
		m.failure("list waiting games", err)
		return nil
	}
	return m.filterFree(games)
}

func (m *Machine) filterFree(games []gameapi.Game) []gameapi.Game {
	var out []gameapi.Game
	for _, g := range games {
		if m.cfg.Free(g) {
			out = append(out, g)
		}
	}
	return out
}

// tryCandidate attempts one registration. stop ends the pass with out.
func (m *Machine) tryCandidate(ctx context.Context, g gameapi.Game) (out Outcome, stop bool) {
	name := m.active.Name()
	label := g.Name
	if label == "" {
		label = "Unnamed"
	}
	m.ev.Emitf(events.KindRegister, "Attempting to join room: %s (%s)", g.ID, label)

	reg, err := m.api.RegisterAgent(ctx, g.ID, name)
	if err == nil {
		if m.adopt(g.ID, reg.ID, "Agent registered!") {
			return Outcome{Established: true, Wait: m.cfg.Timings.RegistrationSync, Reason: "registered"}, true
		}
		m.ev.Emit(events.KindRegister, "Registration returned no agent id", map[string]any{"game_id": g.ID})
		return Outcome{}, false
	}

	c := m.failure(fmt.Sprintf("register in %s", g.ID), err)
	switch {
	case c.Is(classify.Conflict, classify.ReasonAlreadyInGame):
		if c.GameID == "" {
			return Outcome{}, false
		}
		m.ev.Emitf(events.KindRegister, "Account already in game: %s. Attempting to resume...", c.GameID)
		spec, err := m.api.SpectatorState(ctx, c.GameID)
		if err != nil {
			m.failure("spectate "+c.GameID, err)
			return Outcome{}, false
		}
		a, ok := spec.AgentByName(name)
		if !ok {
			m.ev.Emit(events.KindRegister, "Could not resume. Moving on.", nil)
			return Outcome{}, false
		}
		if a.IsAlive {
			if m.adopt(c.GameID, a.ID, "Resumed session!") {
				return Outcome{Established: true, Reason: "resumed"}, true
			}
			return Outcome{}, false
		}
		m.ev.Emitf(events.KindRegister, "Agent in %s is dead. Waiting %s before room scan...", c.GameID, m.cfg.Timings.DeadSeat)
		return Outcome{Wait: m.cfg.Timings.DeadSeat, Reason: "dead seat"}, true

	case c.Is(classify.Conflict, classify.ReasonSeatFull):
		m.ev.Emitf(events.KindRegister, "Room %s is full. Trying next room...", g.ID)
		return Outcome{}, false

	case c.Kind == classify.RateLimited:
		m.RefreshNetwork()
		if m.cfg.RetryCandidatesAfterRateLimit {
			return Outcome{}, false
		}
		wait := Jitter(m.rng, m.cfg.Timings.DiscoveryRetry, m.cfg.Timings.DiscoveryRetryJitter)
		m.ev.Emit(events.KindRegister, "Hit IP limit. Rotated address, rescanning.", nil)
		return Outcome{Wait: wait, Reason: "rate limited"}, true

	case c.Is(classify.Conflict, classify.ReasonOnePerCredential):
		spec, err := m.api.SpectatorState(ctx, g.ID)
		if err != nil {
			m.failure("spectate "+g.ID, err)
			return Outcome{}, false
		}
		if a, ok := spec.AgentByName(name); ok && a.IsAlive {
			if m.adopt(g.ID, a.ID, "Resumed session!") {
				return Outcome{Established: true, Reason: "resumed"}, true
			}
		}
		return Outcome{}, false
	}
	return Outcome{}, false
}
