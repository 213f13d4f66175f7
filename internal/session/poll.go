package session

import (
	"context"
	"strconv"
	"time"

	"moltyagent.ai/internal/classify"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
)

type StepKind int

const (
	// StepAct carries a playable snapshot.
	StepAct StepKind = iota
	// StepRetry asks for the same poll after Wait.
	StepRetry
	// StepWaiting means the match has not started; poll again after Wait.
	StepWaiting
	// StepLost means the session was cleared (match over or seat gone).
	StepLost
	// StepDead means our agent died; the session is still held until the
	// identity is rotated.
	StepDead
)

func (k StepKind) String() string {
	switch k {
	case StepAct:
		return "act"
	case StepRetry:
		return "retry"
	case StepWaiting:
		return "waiting"
	case StepLost:
		return "lost"
	case StepDead:
		return "dead"
	}
	return "unknown"
}

type Step struct {
	Kind   StepKind
	State  gameapi.AgentState
	Wait   time.Duration
	Reason string
}

// Poll fetches the agent state once and turns it into a Step.
func (m *Machine) Poll(ctx context.Context) Step {
	if m.session.Empty() {
		m.setPhase(Discovering)
		return Step{Kind: StepLost, Reason: "no session"}
	}
	s := m.session
	st, err := m.api.AgentState(ctx, s.GameID, s.AgentID)
	if err != nil {
		return m.pollFailure(ctx, err)
	}

	switch st.GameStatus {
	case gameapi.StatusFinished:
		m.ev.Emit(events.KindStatus, "=== Game Finished ===", map[string]any{"game_id": s.GameID, "kills": st.Self.Kills})
		m.clear("game finished")
		return Step{Kind: StepLost, State: st, Reason: "finished"}
	case gameapi.StatusWaiting:
		count := "?"
		if st.AgentCount > 0 {
			count = strconv.Itoa(st.AgentCount)
		}
		m.ev.Emitf(events.KindStatus, "Still waiting... Agents: %s. Sync in %s...", count, m.cfg.Timings.WaitingPoll)
		return Step{Kind: StepWaiting, State: st, Wait: m.cfg.Timings.WaitingPoll, Reason: "waiting"}
	}
	if !st.Self.IsAlive {
		m.ev.Emit(events.KindDeath, "=== Agent has died. Initiating account rotation... ===", map[string]any{
			"game_id": s.GameID, "kills": st.Self.Kills,
		})
		return Step{Kind: StepDead, State: st, Reason: "dead"}
	}
	return Step{Kind: StepAct, State: st}
}

func (m *Machine) pollFailure(ctx context.Context, err error) Step {
	c := m.failure("agent state", err)
	switch {
	case c.Kind == classify.TransientNetwork:
		wait := Jitter(m.rng, m.cfg.Timings.NetworkRetry, m.cfg.Timings.NetworkRetryJitter)
		return Step{Kind: StepRetry, Wait: wait, Reason: "network"}

	case c.Is(classify.NotFound, classify.ReasonAgent):
		if m.recoverSeat(ctx) {
			return Step{Kind: StepRetry, Reason: "recovered"}
		}
		m.ev.Emit(events.KindClear, "Could not re-join or game already started. Triggering new discovery...", nil)
		m.clear("agent not found")
		return Step{Kind: StepLost, Reason: "agent not found"}

	case c.Kind == classify.NotFound:
		// A 404 without a code is treated like a vanished match.
		m.clear("game not found")
		return Step{Kind: StepLost, Reason: "game not found"}
	}
	return Step{Kind: StepRetry, Wait: m.cfg.Timings.StateRetry, Reason: "state unavailable"}
}

// recoverSeat re-registers in place when the match is still waiting, and
// otherwise scans for a living seat elsewhere.
func (m *Machine) recoverSeat(ctx context.Context) bool {
	gameID := m.session.GameID
	name := m.active.Name()

	spec, err := m.api.SpectatorState(ctx, gameID)
	if err == nil && spec.Status == gameapi.StatusWaiting {
		m.ev.Emitf(events.KindRegister, "Room %s is still waiting. Attempting to re-join...", gameID)
		reg, err := m.api.RegisterAgent(ctx, gameID, name)
		if err == nil && m.adopt(gameID, reg.ID, "Successfully re-joined!") {
			return true
		}
		if err != nil {
			m.failure("re-register in "+gameID, err)
		}
	}

	m.ev.Emit(events.KindDiscovery, "Attempting session recovery...", nil)
	seat, ok, _ := FindSeat(ctx, m.api, name)
	if ok && m.adopt(seat.GameID, seat.AgentID, "Recovered session in active game.") {
		return true
	}
	return false
}

// Act submits one action for the held session.
func (m *Machine) Act(ctx context.Context, action gameapi.Action, thought *gameapi.Thought) (gameapi.ActResult, error) {
	s := m.session
	return m.api.Act(ctx, s.GameID, s.AgentID, action, thought)
}

// Items fetches the match's item catalogue.
func (m *Machine) Items(ctx context.Context) (gameapi.ItemCatalogue, error) {
	return m.api.Items(ctx)
}
