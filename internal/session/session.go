// Package session drives one identity through discovery, registration and
// play. It owns the session pair and the active identity; the caller owns
// time and decides when to call it again.
package session

import (
	"context"
	"math/rand"
	"time"

	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
)

type Phase int

const (
	Discovering Phase = iota
	Registering
	Playing
)

func (p Phase) String() string {
	switch p {
	case Discovering:
		return "DISCOVERING"
	case Registering:
		return "REGISTERING"
	case Playing:
		return "PLAYING"
	}
	return "UNKNOWN"
}

// Session is the seat currently held. Both ids are set together or both
// are empty.
type Session struct {
	GameID  string
	AgentID string
}

func (s Session) Empty() bool { return s.GameID == "" && s.AgentID == "" }

// Valid reports whether the pair invariant holds.
func (s Session) Valid() bool { return (s.GameID == "") == (s.AgentID == "") }

// ActiveIdentity is the identity the machine currently plays as, together
// with the network credentials in use. Only the machine changes it.
type ActiveIdentity struct {
	Identity identity.Identity
	Creds    gameapi.Credentials
}

func (a ActiveIdentity) Name() string { return a.Identity.Name }

// API is the part of the game client the machine and loop use.
type API interface {
	ListGames(ctx context.Context, status gameapi.GameStatus) ([]gameapi.Game, error)
	CreateGame(ctx context.Context) (gameapi.Game, error)
	RegisterAgent(ctx context.Context, gameID, name string) (gameapi.Registration, error)
	AgentState(ctx context.Context, gameID, agentID string) (gameapi.AgentState, error)
	SpectatorState(ctx context.Context, gameID string) (gameapi.SpectatorState, error)
	Items(ctx context.Context) (gameapi.ItemCatalogue, error)
	Act(ctx context.Context, gameID, agentID string, action gameapi.Action, thought *gameapi.Thought) (gameapi.ActResult, error)
}

// Dialer binds an API to credentials.
type Dialer func(gameapi.Credentials) API

// ClientDialer dials copies of c.
func ClientDialer(c *gameapi.Client) Dialer {
	return func(creds gameapi.Credentials) API { return c.With(creds) }
}

// Timings are the waits the machine hands back to its caller.
type Timings struct {
	DiscoveryRetry       time.Duration
	DiscoveryRetryJitter time.Duration
	NetworkRetry         time.Duration
	NetworkRetryJitter   time.Duration
	NoGames              time.Duration
	DeadSeat             time.Duration
	RegistrationSync     time.Duration
	StateRetry           time.Duration
	WaitingPoll          time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		DiscoveryRetry:       2 * time.Second,
		DiscoveryRetryJitter: 2 * time.Second,
		NetworkRetry:         2 * time.Second,
		NetworkRetryJitter:   2 * time.Second,
		NoGames:              3 * time.Second,
		DeadSeat:             5 * time.Second,
		RegistrationSync:     500 * time.Millisecond,
		StateRetry:           2 * time.Second,
		WaitingPoll:          3 * time.Second,
	}
}

// Jitter returns base plus a uniform draw from [0, spread).
func Jitter(r *rand.Rand, base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	var n int64
	if r == nil {
		n = rand.Int63n(int64(spread))
	} else {
		n = r.Int63n(int64(spread))
	}
	return base + time.Duration(n)
}
