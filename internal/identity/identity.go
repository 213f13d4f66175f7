// Package identity keeps the rotation pool of game accounts.
package identity

import (
	"context"
	"errors"
	"time"

	"moltyagent.ai/internal/gameapi"
)

// Identity is one game account. Everything except the network fields is
// fixed once the account exists.
type Identity struct {
	AccountID string `json:"accountId"`
	Name      string `json:"accountName"`
	APIKey    string `json:"apiKey"`
	Address   string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

var ErrInvalidIdentity = errors.New("identity: account id and api key are required")

func (id Identity) Validate() error {
	if id.AccountID == "" || id.APIKey == "" {
		return ErrInvalidIdentity
	}
	return nil
}

func (id Identity) Credentials() gameapi.Credentials {
	return gameapi.Credentials{APIKey: id.APIKey, Address: id.Address, UserAgent: id.UserAgent}
}

// WithCredentials returns id carrying the network fields of c.
func (id Identity) WithCredentials(c gameapi.Credentials) Identity {
	id.Address = c.Address
	id.UserAgent = c.UserAgent
	return id
}

// merge overlays the non-empty fields of next onto prev. CreatedAt is kept
// from the first admission.
func merge(prev, next Identity) Identity {
	out := prev
	if next.Name != "" {
		out.Name = next.Name
	}
	if next.APIKey != "" {
		out.APIKey = next.APIKey
	}
	if next.Address != "" {
		out.Address = next.Address
	}
	if next.UserAgent != "" {
		out.UserAgent = next.UserAgent
	}
	if out.CreatedAt == "" {
		out.CreatedAt = next.CreatedAt
	}
	return out
}

func stamp(id Identity, now time.Time) Identity {
	if id.CreatedAt == "" {
		id.CreatedAt = now.UTC().Format(time.RFC3339Nano)
	}
	return id
}

// Store persists pool records. Upsert merges by AccountID and returns the
// stored record.
type Store interface {
	Load(ctx context.Context) ([]Identity, error)
	Upsert(ctx context.Context, id Identity) (Identity, error)
	Close() error
}
