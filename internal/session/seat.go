package session

import (
	"context"
	"errors"

	"moltyagent.ai/internal/classify"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
)

var seatStatuses = []gameapi.GameStatus{gameapi.StatusWaiting, gameapi.StatusRunning}

// FindSeat scans waiting and running matches for a living agent with the
// given display name. A match that vanished between listing and lookup is
// skipped. Any other failed listing or lookup makes the scan inconclusive:
// with no seat found, the collected errors are returned.
func FindSeat(ctx context.Context, api API, name string) (Session, bool, error) {
	var errs []error
	for _, status := range seatStatuses {
		games, err := api.ListGames(ctx, status)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, g := range games {
			if err := ctx.Err(); err != nil {
				return Session{}, false, err
			}
			spec, err := api.SpectatorState(ctx, g.ID)
			if err != nil {
				if classify.Classify(err).Kind != classify.NotFound {
					errs = append(errs, err)
				}
				continue
			}
			if a, ok := spec.AgentByName(name); ok && a.IsAlive && a.ID != "" {
				return Session{GameID: g.ID, AgentID: a.ID}, true, nil
			}
		}
	}
	return Session{}, false, errors.Join(errs...)
}

// SeatProbe adapts FindSeat to the identity pool: each identity is checked
// through its own credentials.
func SeatProbe(dial Dialer) identity.Probe {
	return func(ctx context.Context, id identity.Identity) (string, error) {
		s, ok, err := FindSeat(ctx, dial(id.Credentials()), id.Name)
		if ok {
			return s.GameID, nil
		}
		return "", err
	}
}
