package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
)

type profiler interface {
	Me(ctx context.Context) (gameapi.Profile, error)
}

type freeFinder interface {
	FindFree(ctx context.Context, exclude ...string) (identity.Identity, bool, error)
	ProvisionNew(ctx context.Context) (identity.Identity, error)
}

// startingIdentity resolves the first identity: the one named by flags
// (completed from the account profile when needed), else a free pool entry,
// else a freshly provisioned account.
func startingIdentity(ctx context.Context, f cliFlags, client *gameapi.Client, pool freeFinder) (identity.Identity, error) {
	if key := strings.TrimSpace(f.apiKey); key != "" {
		return identityFromKey(ctx, f, client.With(gameapi.Credentials{APIKey: key}))
	}
	id, ok, err := pool.FindFree(ctx)
	if ok {
		return id, nil
	}
	id, perr := pool.ProvisionNew(ctx)
	if perr != nil {
		return identity.Identity{}, errors.Join(err, perr)
	}
	return id, nil
}

// identityFromKey does not add the identity to the pool; only provisioned
// accounts are rotated back in.
func identityFromKey(ctx context.Context, f cliFlags, me profiler) (identity.Identity, error) {
	id := identity.Identity{
		AccountID: strings.TrimSpace(f.accountID),
		Name:      strings.TrimSpace(f.name),
		APIKey:    strings.TrimSpace(f.apiKey),
	}
	if id.AccountID == "" || id.Name == "" {
		p, err := me.Me(ctx)
		if err != nil {
			return identity.Identity{}, fmt.Errorf("look up account for api key: %w", err)
		}
		if id.AccountID == "" {
			id.AccountID = p.ID
		}
		if id.Name == "" {
			id.Name = p.Name
		}
	}
	if err := id.Validate(); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}
