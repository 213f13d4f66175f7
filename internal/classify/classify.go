// Package classify maps remote failures to a small closed set of kinds that
// the session machine knows how to recover from.
package classify

import (
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"moltyagent.ai/internal/gameapi"
)

type Kind string

const (
	TransientNetwork Kind = "transient-network"
	NotFound         Kind = "not-found"
	Conflict         Kind = "conflict"
	RateLimited      Kind = "rate-limited"
	Rejected         Kind = "rejected"
	Unknown          Kind = "unknown"
)

// Reasons refine Conflict and NotFound.
const (
	ReasonAlreadyInGame     = "already-in-game"
	ReasonOnePerCredential  = "one-per-credential"
	ReasonSeatFull          = "seat-full"
	ReasonWaitingGameExists = "waiting-game-exists"
	ReasonAlreadyActed      = "already-acted"
	ReasonAgent             = "agent"
	ReasonGame              = "game"
)

type Classification struct {
	Kind   Kind
	Reason string
	// GameID is set for conflict(already-in-game) when the message names the
	// match the account is seated in.
	GameID string
}

func (c Classification) Is(kind Kind, reason string) bool {
	return c.Kind == kind && c.Reason == reason
}

func (c Classification) String() string {
	if c.Reason == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + "(" + c.Reason + ")"
}

var currentGameRe = regexp.MustCompile(`Current game: ([a-fA-F0-9-]+)`)

// transportMarkers are matched against bodies that carry no API code. Go's
// own socket errors are recognised by type in isTransport.
var transportMarkers = []string{
	"econnreset",
	"etimedout",
	"econnrefused",
	"ssl",
	"decryption failed",
	"bad record mac",
	"tls:",
}

// Classify is total: every error, including nil-coded ones, maps to exactly
// one Classification.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: Unknown}
	}
	var f *gameapi.Failure
	if !errors.As(err, &f) {
		if isTransport(err, err.Error()) {
			return Classification{Kind: TransientNetwork}
		}
		return Classification{Kind: Unknown}
	}

	// A failure with no HTTP response at all is below the API whatever its
	// message says.
	if f.Transport() || (!f.Structured && isTransport(f.Cause, f.Message)) {
		return Classification{Kind: TransientNetwork}
	}

	if f.Code != "" {
		return byCode(f)
	}
	return byStatus(f.Status)
}

func byCode(f *gameapi.Failure) Classification {
	switch f.Code {
	case gameapi.ErrAccountAlreadyInGame:
		c := Classification{Kind: Conflict, Reason: ReasonAlreadyInGame}
		if m := currentGameRe.FindStringSubmatch(f.Message); len(m) == 2 {
			c.GameID = m[1]
		}
		return c
	case gameapi.ErrOneAgentPerAPIKey:
		return Classification{Kind: Conflict, Reason: ReasonOnePerCredential}
	case gameapi.ErrMaxAgentsReached:
		return Classification{Kind: Conflict, Reason: ReasonSeatFull}
	case gameapi.ErrWaitingGameExists:
		return Classification{Kind: Conflict, Reason: ReasonWaitingGameExists}
	case gameapi.ErrAlreadyActed:
		return Classification{Kind: Conflict, Reason: ReasonAlreadyActed}
	case gameapi.ErrAgentNotFound:
		return Classification{Kind: NotFound, Reason: ReasonAgent}
	case gameapi.ErrGameNotFound:
		return Classification{Kind: NotFound, Reason: ReasonGame}
	case gameapi.ErrTooManyAgentsPerIP, gameapi.ErrRateLimited:
		return Classification{Kind: RateLimited}
	case gameapi.ErrValidation, gameapi.ErrUnauthorized, gameapi.ErrForbidden,
		gameapi.ErrInvalidAction, gameapi.ErrAgentDead, gameapi.ErrGameNotJoinable,
		gameapi.ErrAccountNotFound:
		return Classification{Kind: Rejected}
	}
	return Classification{Kind: Unknown}
}

func byStatus(status int) Classification {
	switch {
	case status == http.StatusNotFound:
		return Classification{Kind: NotFound}
	case status == http.StatusConflict:
		return Classification{Kind: Conflict}
	case status == http.StatusTooManyRequests:
		return Classification{Kind: RateLimited}
	case status == http.StatusBadRequest, status == http.StatusUnauthorized,
		status == http.StatusForbidden, status == http.StatusUnprocessableEntity:
		return Classification{Kind: Rejected}
	}
	return Classification{Kind: Unknown}
}

func isTransport(cause error, msg string) bool {
	if cause != nil {
		var ne net.Error
		if errors.As(cause, &ne) && ne.Timeout() {
			return true
		}
		if errors.Is(cause, io.ErrUnexpectedEOF) {
			return true
		}
		if errors.Is(cause, syscall.ECONNRESET) || errors.Is(cause, syscall.ECONNREFUSED) ||
			errors.Is(cause, syscall.ETIMEDOUT) || errors.Is(cause, syscall.EPIPE) {
			return true
		}
		var op *net.OpError
		if errors.As(cause, &op) {
			return true
		}
	}
	m := strings.ToLower(msg)
	for _, k := range transportMarkers {
		if strings.Contains(m, k) {
			return true
		}
	}
	return false
}
