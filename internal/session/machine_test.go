package session

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/gamefake"
	"moltyagent.ai/internal/identity"
)

const me = "Narto_1"

func testIdentity() identity.Identity {
	return identity.Identity{AccountID: "acc-1", Name: me, APIKey: "key-1", Address: "8.8.8.8", UserAgent: "ua"}
}

func newMachine(t *testing.T, srv *gamefake.Server, cfg Config) (*Machine, *[]events.Event) {
	t.Helper()
	var evs []events.Event
	em := events.NewEmitter("test", nil, events.SinkFunc(func(e events.Event) { evs = append(evs, e) }))
	dial := func(c gameapi.Credentials) API { return srv.Dial(c) }
	m := NewMachine(dial, testIdentity(), cfg, em, rand.New(rand.NewSource(1)))
	return m, &evs
}

func assertPair(t *testing.T, m *Machine) {
	t.Helper()
	if !m.Session().Valid() {
		t.Fatalf("session pair invariant broken: %+v", m.Session())
	}
	if m.Session().Empty() == (m.Phase() == Playing) {
		t.Fatalf("phase %s with session %+v", m.Phase(), m.Session())
	}
}

func TestDiscover_ResumesLivingSeat(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("w1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.AddGame("r1", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "old", Name: me, IsAlive: false},
	)
	srv.AddGame("r2", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "other", Name: "x", IsAlive: true},
		gameapi.SpectatorAgent{ID: "mine", Name: me, IsAlive: true},
	)
	m, _ := newMachine(t, srv, Config{})

	out := m.Discover(context.Background())
	if !out.Established {
		t.Fatalf("outcome=%+v", out)
	}
	if m.Session() != (Session{GameID: "r2", AgentID: "mine"}) {
		t.Fatalf("session=%+v", m.Session())
	}
	if srv.Count("register") != 0 {
		t.Fatalf("registered while resuming: %v", srv.Calls())
	}
	assertPair(t, m)
}

func TestDiscover_RegistersIntoFirstFreeCandidate(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("paid", gameapi.StatusWaiting, "paid")
	srv.AddGame("free1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.AddGame("free2", gameapi.StatusWaiting, gameapi.EntryFree)
	m, _ := newMachine(t, srv, Config{})

	out := m.Discover(context.Background())
	if !out.Established || out.Wait != DefaultTimings().RegistrationSync {
		t.Fatalf("outcome=%+v", out)
	}
	if m.Session().GameID != "free1" || m.Phase() != Playing {
		t.Fatalf("session=%+v phase=%s", m.Session(), m.Phase())
	}
	if srv.Count("register paid") != 0 || srv.Count("register free2") != 0 {
		t.Fatalf("calls=%v", srv.Calls())
	}
	assertPair(t, m)
}

func TestDiscover_CreatesWhenNoneAndRelistsOnWaitingGameExists(t *testing.T) {
	srv := gamefake.New()
	m, _ := newMachine(t, srv, Config{})
	if out := m.Discover(context.Background()); !out.Established || !strings.HasPrefix(m.Session().GameID, "created-") {
		t.Fatalf("outcome=%+v session=%+v", out, m.Session())
	}

	srv2 := gamefake.New()
	lists := 0
	srv2.OnCreate = func() (gameapi.Game, error) {
		srv2.AddGame("raced", gameapi.StatusWaiting, gameapi.EntryFree)
		return gameapi.Game{}, gamefake.Fail(409, gameapi.ErrWaitingGameExists, "exists")
	}
	srv2.OnList = func(status gameapi.GameStatus) ([]gameapi.Game, error) {
		if status == gameapi.StatusWaiting {
			lists++
		}
		var out []gameapi.Game
		if g := srv2.Game("raced"); g != nil && g.Status == status {
			out = append(out, g.Game)
		}
		return out, nil
	}
	m2, _ := newMachine(t, srv2, Config{})
	if out := m2.Discover(context.Background()); !out.Established || m2.Session().GameID != "raced" {
		t.Fatalf("outcome=%+v session=%+v calls=%v", out, m2.Session(), srv2.Calls())
	}
	// resume scan + initial listing + re-list
	if lists != 3 {
		t.Fatalf("waiting lists=%d", lists)
	}
}

func TestDiscover_AlreadyInGameAliveAdoptsThatGame(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("cand", gameapi.StatusWaiting, gameapi.EntryFree)
	// X is not listed anywhere, so the resume scan cannot find it.
	srv.OnList = func(status gameapi.GameStatus) ([]gameapi.Game, error) {
		if status == gameapi.StatusWaiting {
			return []gameapi.Game{srv.Game("cand").Game}, nil
		}
		return nil, nil
	}
	srv.AddGame("X-1a2b", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "seat-x", Name: me, IsAlive: true},
	)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		return gameapi.Registration{}, gamefake.Fail(409, gameapi.ErrAccountAlreadyInGame, "Already playing. Current game: 1a2b")
	}
	srv.OnSpectator = func(gameID string) (gameapi.SpectatorState, error) {
		if gameID == "1a2b" {
			return gameapi.SpectatorState{Status: gameapi.StatusRunning, Agents: srv.Game("X-1a2b").Agents}, nil
		}
		return gameapi.SpectatorState{Status: gameapi.StatusWaiting}, nil
	}
	m, _ := newMachine(t, srv, Config{})

	out := m.Discover(context.Background())
	if !out.Established || m.Session() != (Session{GameID: "1a2b", AgentID: "seat-x"}) {
		t.Fatalf("outcome=%+v session=%+v", out, m.Session())
	}
	assertPair(t, m)
}

func TestDiscover_AlreadyInGameDeadWaitsAndRestarts(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("cand1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.AddGame("cand2", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		return gameapi.Registration{}, gamefake.Fail(409, gameapi.ErrAccountAlreadyInGame, "Current game: dead0")
	}
	srv.OnSpectator = func(gameID string) (gameapi.SpectatorState, error) {
		return gameapi.SpectatorState{Agents: []gameapi.SpectatorAgent{{ID: "d", Name: me, IsAlive: false}}}, nil
	}
	m, _ := newMachine(t, srv, Config{})

	out := m.Discover(context.Background())
	if out.Established || out.Wait != DefaultTimings().DeadSeat {
		t.Fatalf("outcome=%+v", out)
	}
	if srv.Count("register cand2") != 0 {
		t.Fatalf("continued after dead seat: %v", srv.Calls())
	}
	assertPair(t, m)
}

func TestDiscover_SeatFullTriesNext(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("full", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.AddGame("open", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		if gameID == "full" {
			return gameapi.Registration{}, gamefake.Fail(400, gameapi.ErrMaxAgentsReached, "full")
		}
		return gameapi.Registration{ID: "a-open"}, nil
	}
	m, _ := newMachine(t, srv, Config{})
	if out := m.Discover(context.Background()); !out.Established || m.Session().GameID != "open" {
		t.Fatalf("outcome=%+v session=%+v", out, m.Session())
	}
}

func TestDiscover_RateLimitedRefreshesAndAbandons(t *testing.T) {
	for _, broaden := range []bool{false, true} {
		srv := gamefake.New()
		srv.AddGame("c1", gameapi.StatusWaiting, gameapi.EntryFree)
		srv.AddGame("c2", gameapi.StatusWaiting, gameapi.EntryFree)
		srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
			if gameID == "c1" {
				return gameapi.Registration{}, gamefake.Fail(429, gameapi.ErrTooManyAgentsPerIP, "too many")
			}
			return gameapi.Registration{ID: "a2"}, nil
		}
		m, _ := newMachine(t, srv, Config{RetryCandidatesAfterRateLimit: broaden})
		before := m.Active().Creds

		out := m.Discover(context.Background())
		after := m.Active().Creds
		if after.Address == before.Address || after.APIKey != before.APIKey {
			t.Fatalf("network not refreshed: before=%+v after=%+v", before, after)
		}
		if m.Active().Identity.Address != after.Address {
			t.Fatalf("active identity not updated")
		}
		dials := srv.Dials()
		if dials[len(dials)-1] != after {
			t.Fatalf("api not rebound to refreshed credentials")
		}

		if !broaden {
			if out.Established || srv.Count("register c2") != 0 {
				t.Fatalf("default policy should abandon: out=%+v calls=%v", out, srv.Calls())
			}
			if out.Wait < 2*time.Second || out.Wait >= 4*time.Second {
				t.Fatalf("wait=%s", out.Wait)
			}
		} else if !out.Established || m.Session().GameID != "c2" {
			t.Fatalf("broadened policy should continue: out=%+v", out)
		}
		assertPair(t, m)
	}
}

func TestDiscover_OnePerCredentialAdoptsLivingAgent(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("c1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		return gameapi.Registration{}, gamefake.Fail(409, gameapi.ErrOneAgentPerAPIKey, "one agent")
	}
	specCalls := 0
	srv.OnSpectator = func(gameID string) (gameapi.SpectatorState, error) {
		specCalls++
		// Hidden from the resume scan, visible on the candidate check.
		if specCalls == 1 {
			return gameapi.SpectatorState{}, nil
		}
		return gameapi.SpectatorState{Agents: []gameapi.SpectatorAgent{{ID: "mine", Name: me, IsAlive: true}}}, nil
	}
	m, _ := newMachine(t, srv, Config{})
	if out := m.Discover(context.Background()); !out.Established || m.Session() != (Session{GameID: "c1", AgentID: "mine"}) {
		t.Fatalf("outcome=%+v session=%+v", out, m.Session())
	}
}

func TestDiscover_NoSeatWaitsWithJitter(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("c1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		return gameapi.Registration{}, gamefake.NetFail("read: connection reset by peer")
	}
	m, _ := newMachine(t, srv, Config{})
	out := m.Discover(context.Background())
	if out.Established || out.Wait < 2*time.Second || out.Wait >= 4*time.Second {
		t.Fatalf("outcome=%+v", out)
	}
	if m.Phase() != Discovering {
		t.Fatalf("phase=%s", m.Phase())
	}
	assertPair(t, m)
}

func playing(t *testing.T, srv *gamefake.Server) *Machine {
	t.Helper()
	srv.AddGame("g", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "a1", Name: me, IsAlive: true, HP: 100})
	m, _ := newMachine(t, srv, Config{})
	if out := m.Discover(context.Background()); !out.Established {
		t.Fatalf("setup: %+v", out)
	}
	return m
}

func TestPoll_ActWaitingFinished(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)

	if step := m.Poll(context.Background()); step.Kind != StepAct || step.State.Self.ID != "a1" {
		t.Fatalf("step=%+v", step)
	}
	srv.SetStatus("g", gameapi.StatusWaiting)
	if step := m.Poll(context.Background()); step.Kind != StepWaiting || step.Wait != 3*time.Second {
		t.Fatalf("step=%+v", step)
	}
	assertPair(t, m)
	srv.SetStatus("g", gameapi.StatusFinished)
	if step := m.Poll(context.Background()); step.Kind != StepLost || !m.Session().Empty() {
		t.Fatalf("step=%+v session=%+v", step, m.Session())
	}
	assertPair(t, m)
}

func TestPoll_DeadKeepsSession(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.Kill(me)
	step := m.Poll(context.Background())
	if step.Kind != StepDead || m.Session().Empty() {
		t.Fatalf("step=%+v session=%+v", step, m.Session())
	}
	assertPair(t, m)
}

func TestPoll_TransientRetries(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.OnState = func(string, string) (gameapi.AgentState, error) {
		return gameapi.AgentState{}, gamefake.NetFail("SSL routines: decryption failed or bad record mac")
	}
	step := m.Poll(context.Background())
	if step.Kind != StepRetry || step.Wait < 2*time.Second || step.Wait >= 4*time.Second {
		t.Fatalf("step=%+v", step)
	}
	if m.Session().Empty() {
		t.Fatalf("session dropped on transient error")
	}

	srv.OnState = func(string, string) (gameapi.AgentState, error) {
		return gameapi.AgentState{}, gamefake.Fail(500, gameapi.ErrInternal, "boom")
	}
	if step := m.Poll(context.Background()); step.Kind != StepRetry || step.Wait != 2*time.Second {
		t.Fatalf("step=%+v", step)
	}
}

func TestPoll_AgentNotFoundWhileWaitingReRegisters(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("w", gameapi.StatusWaiting, gameapi.EntryFree)
	m, _ := newMachine(t, srv, Config{})
	if out := m.Discover(context.Background()); !out.Established {
		t.Fatalf("setup: %+v", out)
	}
	first := m.Session()

	// The server forgets the seat.
	srv.Game("w").Agents = nil
	step := m.Poll(context.Background())
	if step.Kind != StepRetry {
		t.Fatalf("step=%+v", step)
	}
	got := m.Session()
	if got.GameID != "w" || got.AgentID == "" || got.AgentID == first.AgentID {
		t.Fatalf("expected re-registration in place: before=%+v after=%+v", first, got)
	}
	if srv.Count("register w") != 2 {
		t.Fatalf("calls=%v", srv.Calls())
	}
	assertPair(t, m)
}

func TestPoll_AgentNotFoundRunningClears(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.Game("g").Agents = nil
	step := m.Poll(context.Background())
	if step.Kind != StepLost || !m.Session().Empty() || m.Phase() != Discovering {
		t.Fatalf("step=%+v session=%+v", step, m.Session())
	}
}

func TestPoll_GameNotFoundClears(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.OnState = func(string, string) (gameapi.AgentState, error) {
		return gameapi.AgentState{}, gamefake.Fail(404, gameapi.ErrGameNotFound, "gone")
	}
	if step := m.Poll(context.Background()); step.Kind != StepLost || !m.Session().Empty() {
		t.Fatalf("step=%+v", step)
	}
}

func TestSwapIdentity(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	next := identity.Identity{AccountID: "acc-2", Name: "Kayrel_5555", APIKey: "key-2", Address: "9.9.9.9"}

	m.SwapIdentity(next)
	if !m.Session().Empty() || m.Phase() != Discovering {
		t.Fatalf("session=%+v phase=%s", m.Session(), m.Phase())
	}
	a := m.Active()
	if a.Name() != "Kayrel_5555" || a.Creds.APIKey != "key-2" || a.Creds.Address != "9.9.9.9" || a.Creds.UserAgent == "" {
		t.Fatalf("active=%+v", a)
	}
	dials := srv.Dials()
	if dials[len(dials)-1].APIKey != "key-2" {
		t.Fatalf("api not rebound")
	}
}

func TestSeatProbe(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("r", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "x", Name: "Busy", IsAlive: true},
		gameapi.SpectatorAgent{ID: "y", Name: "Dead", IsAlive: false},
	)
	seatOf := SeatProbe(func(c gameapi.Credentials) API { return srv.Dial(c) })

	if g, err := seatOf(context.Background(), identity.Identity{Name: "Busy", APIKey: "kb"}); g != "r" || err != nil {
		t.Fatalf("busy: %q %v", g, err)
	}
	if g, err := seatOf(context.Background(), identity.Identity{Name: "Dead", APIKey: "kd"}); g != "" || err != nil {
		t.Fatalf("dead: %q %v", g, err)
	}
	if srv.Dials()[0].APIKey != "kb" {
		t.Fatalf("seat check did not use the identity's credentials")
	}

	srv.OnList = func(gameapi.GameStatus) ([]gameapi.Game, error) { return nil, gamefake.NetFail("timeout") }
	if _, err := seatOf(context.Background(), identity.Identity{Name: "Busy"}); err == nil {
		t.Fatalf("expected inconclusive seat check")
	}
}

func TestSeatProbe_SpectatorFailureIsInconclusive(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("r", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "x", Name: "Busy", IsAlive: true})
	srv.OnSpectator = func(string) (gameapi.SpectatorState, error) {
		return gameapi.SpectatorState{}, gamefake.NetFail("connection reset")
	}
	seatOf := SeatProbe(func(c gameapi.Credentials) API { return srv.Dial(c) })

	if g, err := seatOf(context.Background(), identity.Identity{Name: "Busy"}); g != "" || err == nil {
		t.Fatalf("seated identity reported free: %q %v", g, err)
	}

	// A match that ended between listing and lookup is not a seat.
	srv.OnSpectator = func(string) (gameapi.SpectatorState, error) {
		return gameapi.SpectatorState{}, gamefake.Fail(404, gameapi.ErrGameNotFound, "Game not found")
	}
	if g, err := seatOf(context.Background(), identity.Identity{Name: "Busy"}); g != "" || err != nil {
		t.Fatalf("vanished match: %q %v", g, err)
	}
}

func TestPool_FindFreeSkipsIdentityBehindSpectatorOutage(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("r", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "x", Name: "Busy", IsAlive: true})
	lookups := 0
	srv.OnSpectator = func(gameID string) (gameapi.SpectatorState, error) {
		lookups++
		if lookups == 1 {
			return gameapi.SpectatorState{}, gamefake.NetFail("connection reset")
		}
		return gameapi.SpectatorState{GameID: gameID, Status: gameapi.StatusRunning, Agents: srv.Game(gameID).Agents}, nil
	}

	fs, err := identity.OpenFile(filepath.Join(t.TempDir(), "pool.json"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	for _, id := range []identity.Identity{
		{AccountID: "acc-busy", Name: "Busy", APIKey: "kb"},
		{AccountID: "acc-idle", Name: "Idle", APIKey: "ki"},
	} {
		if _, err := fs.Upsert(context.Background(), id); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	pool := identity.NewPool(identity.PoolConfig{
		Store: fs,
		Probe: SeatProbe(func(c gameapi.Credentials) API { return srv.Dial(c) }),
	})

	id, ok, err := pool.FindFree(context.Background())
	if err != nil || !ok || id.AccountID != "acc-idle" {
		t.Fatalf("FindFree = %+v ok=%v err=%v", id, ok, err)
	}
}

func TestDiscover_AlreadyInGameLookupFailureTriesNext(t *testing.T) {
	srv := gamefake.New()
	srv.AddGame("c1", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.AddGame("c2", gameapi.StatusWaiting, gameapi.EntryFree)
	srv.OnRegister = func(gameID, name string) (gameapi.Registration, error) {
		if gameID == "c1" {
			return gameapi.Registration{}, gamefake.Fail(409, gameapi.ErrAccountAlreadyInGame, "Current game: 77aa")
		}
		return gameapi.Registration{ID: "a-c2"}, nil
	}
	srv.OnSpectator = func(gameID string) (gameapi.SpectatorState, error) {
		if gameID == "77aa" {
			return gameapi.SpectatorState{}, gamefake.NetFail("ETIMEDOUT")
		}
		return gameapi.SpectatorState{GameID: gameID, Status: gameapi.StatusWaiting}, nil
	}
	m, _ := newMachine(t, srv, Config{})

	out := m.Discover(context.Background())
	if !out.Established || m.Session() != (Session{GameID: "c2", AgentID: "a-c2"}) {
		t.Fatalf("outcome=%+v session=%+v calls=%v", out, m.Session(), srv.Calls())
	}
	if srv.Count("spectate 77aa") != 1 {
		t.Fatalf("calls=%v", srv.Calls())
	}
	assertPair(t, m)
}

func TestPoll_AgentNotFoundRunningAdoptsSeatElsewhere(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.AddGame("g2", gameapi.StatusRunning, gameapi.EntryFree,
		gameapi.SpectatorAgent{ID: "a9", Name: me, IsAlive: true, HP: 60})
	srv.Game("g").Agents = nil

	step := m.Poll(context.Background())
	if step.Kind != StepRetry {
		t.Fatalf("step=%+v", step)
	}
	if m.Session() != (Session{GameID: "g2", AgentID: "a9"}) || m.Phase() != Playing {
		t.Fatalf("session=%+v phase=%s", m.Session(), m.Phase())
	}
	if srv.Count("register") != 0 {
		t.Fatalf("re-registered in a running match: %v", srv.Calls())
	}
	assertPair(t, m)
}

func TestPoll_BareNotFoundClears(t *testing.T) {
	srv := gamefake.New()
	m := playing(t, srv)
	srv.OnState = func(string, string) (gameapi.AgentState, error) {
		return gameapi.AgentState{}, &gameapi.Failure{Op: "agentState", Status: 404, Message: "404 page not found"}
	}
	step := m.Poll(context.Background())
	if step.Kind != StepLost || !m.Session().Empty() || m.Phase() != Discovering {
		t.Fatalf("step=%+v session=%+v phase=%s", step, m.Session(), m.Phase())
	}
	assertPair(t, m)
}

func TestFailure_FlagsUnknownCodes(t *testing.T) {
	srv := gamefake.New()
	m, evs := newMachine(t, srv, Config{})

	m.failure("register", gamefake.Fail(400, "BRAND_NEW_CODE", "?"))
	m.failure("register", gamefake.Fail(409, gameapi.ErrMaxAgentsReached, "full"))

	var flagged []any
	for _, e := range *evs {
		if e.Kind == events.KindFailure {
			flagged = append(flagged, e.Data["unknown_code"])
		}
	}
	if len(flagged) != 2 || flagged[0] != "BRAND_NEW_CODE" || flagged[1] != nil {
		t.Fatalf("unknown_code values = %v", flagged)
	}
}
