package gameapi

import "fmt"

// Error codes returned by the game API in {"success":false,"error":{"code":...}}.
const (
	// Lobby / registration.
	ErrAccountAlreadyInGame = "ACCOUNT_ALREADY_IN_GAME"
	ErrOneAgentPerAPIKey    = "ONE_AGENT_PER_API_KEY"
	ErrMaxAgentsReached     = "MAX_AGENTS_REACHED"
	ErrTooManyAgentsPerIP   = "TOO_MANY_AGENTS_PER_IP"
	ErrWaitingGameExists    = "WAITING_GAME_EXISTS"
	ErrGameNotJoinable      = "GAME_NOT_JOINABLE"

	// Lookups.
	ErrGameNotFound    = "GAME_NOT_FOUND"
	ErrAgentNotFound   = "AGENT_NOT_FOUND"
	ErrAccountNotFound = "ACCOUNT_NOT_FOUND"

	// Action layer.
	ErrAlreadyActed  = "ALREADY_ACTED"
	ErrInvalidAction = "INVALID_ACTION"
	ErrAgentDead     = "AGENT_DEAD"

	// Request layer.
	ErrValidation   = "VALIDATION_ERROR"
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN"
	ErrRateLimited  = "RATE_LIMITED"
	ErrInternal     = "INTERNAL_ERROR"
)

var knownCodes = map[string]struct{}{
	ErrAccountAlreadyInGame: {},
	ErrOneAgentPerAPIKey:    {},
	ErrMaxAgentsReached:     {},
	ErrTooManyAgentsPerIP:   {},
	ErrWaitingGameExists:    {},
	ErrGameNotJoinable:      {},
	ErrGameNotFound:         {},
	ErrAgentNotFound:        {},
	ErrAccountNotFound:      {},
	ErrAlreadyActed:         {},
	ErrInvalidAction:        {},
	ErrAgentDead:            {},
	ErrValidation:           {},
	ErrUnauthorized:         {},
	ErrForbidden:            {},
	ErrRateLimited:          {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Failure is the only error type returned by Client methods.
//
// Structured is true when the server answered with a well-formed error
// envelope. When Status is zero the request never produced an HTTP response
// and Cause holds the transport error.
type Failure struct {
	Op         string
	Status     int
	Code       string
	Message    string
	Structured bool
	Cause      error
}

func (f *Failure) Error() string {
	code := f.Code
	if code == "" {
		code = "ERROR"
	}
	if f.Status == 0 {
		return fmt.Sprintf("%s: [%s] %s", f.Op, code, f.Message)
	}
	return fmt.Sprintf("%s: [%s] %s (status=%d)", f.Op, code, f.Message, f.Status)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Transport reports whether the failure happened below HTTP (no response).
func (f *Failure) Transport() bool { return f.Status == 0 && !f.Structured }
