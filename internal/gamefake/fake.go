// Package gamefake is an in-memory stand-in for the game API used by
// tests. Behaviour defaults to a cooperative server; the On* hooks override
// single calls.
package gamefake

import (
	"context"
	"fmt"
	"sync"

	"moltyagent.ai/internal/gameapi"
)

type Game struct {
	gameapi.Game
	Agents []gameapi.SpectatorAgent
}

type Server struct {
	mu sync.Mutex

	games []*Game
	seq   int
	calls []string
	dials []gameapi.Credentials

	Catalogue gameapi.ItemCatalogue

	OnList      func(status gameapi.GameStatus) ([]gameapi.Game, error)
	OnCreate    func() (gameapi.Game, error)
	OnRegister  func(gameID, name string) (gameapi.Registration, error)
	OnState     func(gameID, agentID string) (gameapi.AgentState, error)
	OnSpectator func(gameID string) (gameapi.SpectatorState, error)
	OnAct       func(gameID, agentID string, a gameapi.Action) (gameapi.ActResult, error)
	OnItems     func() (gameapi.ItemCatalogue, error)
}

func New() *Server { return &Server{} }

// AddGame registers a match and returns it for further setup.
func (s *Server) AddGame(id string, status gameapi.GameStatus, entry string, agents ...gameapi.SpectatorAgent) *Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &Game{Game: gameapi.Game{ID: id, Name: "room " + id, Status: status, EntryType: entry}, Agents: agents}
	s.games = append(s.games, g)
	return g
}

func (s *Server) Game(id string) *Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *Server) SetStatus(id string, status gameapi.GameStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g := s.find(id); g != nil {
		g.Status = status
	}
}

// Kill marks the named agent dead in every match.
func (s *Server) Kill(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		for i := range g.Agents {
			if g.Agents[i].Name == name {
				g.Agents[i].IsAlive = false
			}
		}
	}
}

// Dial returns the server as an API bound to creds. The credentials are
// recorded for assertions.
func (s *Server) Dial(creds gameapi.Credentials) *Server {
	s.mu.Lock()
	s.dials = append(s.dials, creds)
	s.mu.Unlock()
	return s
}

func (s *Server) Dials() []gameapi.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gameapi.Credentials(nil), s.dials...)
}

func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) Count(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (s *Server) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *Server) find(id string) *Game {
	for _, g := range s.games {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (s *Server) ListGames(ctx context.Context, status gameapi.GameStatus) ([]gameapi.Game, error) {
	s.record("list %s", status)
	if s.OnList != nil {
		return s.OnList(status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gameapi.Game
	for _, g := range s.games {
		if status == "" || g.Status == status {
			out = append(out, g.Game)
		}
	}
	return out, nil
}

func (s *Server) CreateGame(ctx context.Context) (gameapi.Game, error) {
	s.record("create")
	if s.OnCreate != nil {
		return s.OnCreate()
	}
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("created-%d", s.seq)
	s.mu.Unlock()
	return s.AddGame(id, gameapi.StatusWaiting, gameapi.EntryFree).Game, nil
}

func (s *Server) RegisterAgent(ctx context.Context, gameID, name string) (gameapi.Registration, error) {
	s.record("register %s %s", gameID, name)
	if s.OnRegister != nil {
		return s.OnRegister(gameID, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.find(gameID)
	if g == nil {
		return gameapi.Registration{}, Fail(404, gameapi.ErrGameNotFound, "Game not found")
	}
	s.seq++
	id := fmt.Sprintf("agent-%d", s.seq)
	g.Agents = append(g.Agents, gameapi.SpectatorAgent{ID: id, Name: name, IsAlive: true, HP: 100})
	return gameapi.Registration{ID: id, Name: name}, nil
}

func (s *Server) AgentState(ctx context.Context, gameID, agentID string) (gameapi.AgentState, error) {
	s.record("state %s %s", gameID, agentID)
	if s.OnState != nil {
		return s.OnState(gameID, agentID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.find(gameID)
	if g == nil {
		return gameapi.AgentState{}, Fail(404, gameapi.ErrGameNotFound, "Game not found")
	}
	for _, a := range g.Agents {
		if a.ID == agentID {
			return gameapi.AgentState{
				Self: gameapi.Self{
					ID: a.ID, Name: a.Name, HP: a.HP, MaxHP: 100, EP: 10, MaxEP: 10,
					Kills: a.Kills, IsAlive: a.IsAlive,
				},
				CurrentRegion: gameapi.Region{Name: "Plains"},
				GameStatus:    g.Status,
				AgentCount:    len(g.Agents),
			}, nil
		}
	}
	return gameapi.AgentState{}, Fail(404, gameapi.ErrAgentNotFound, "Agent not found")
}

func (s *Server) SpectatorState(ctx context.Context, gameID string) (gameapi.SpectatorState, error) {
	s.record("spectate %s", gameID)
	if s.OnSpectator != nil {
		return s.OnSpectator(gameID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.find(gameID)
	if g == nil {
		return gameapi.SpectatorState{}, Fail(404, gameapi.ErrGameNotFound, "Game not found")
	}
	return gameapi.SpectatorState{
		GameID: g.ID,
		Status: g.Status,
		Agents: append([]gameapi.SpectatorAgent(nil), g.Agents...),
	}, nil
}

func (s *Server) Items(ctx context.Context) (gameapi.ItemCatalogue, error) {
	s.record("items")
	if s.OnItems != nil {
		return s.OnItems()
	}
	return s.Catalogue, nil
}

func (s *Server) Act(ctx context.Context, gameID, agentID string, a gameapi.Action, _ *gameapi.Thought) (gameapi.ActResult, error) {
	s.record("act %s %s", a.Type, agentID)
	if s.OnAct != nil {
		return s.OnAct(gameID, agentID, a)
	}
	return gameapi.ActResult{Message: "ok"}, nil
}

// Fail builds a structured API failure.
func Fail(status int, code, msg string) error {
	return &gameapi.Failure{Op: "fake", Status: status, Code: code, Message: msg, Structured: true}
}

// NetFail builds a transport-level failure.
func NetFail(msg string) error {
	return &gameapi.Failure{Op: "fake", Message: msg}
}
