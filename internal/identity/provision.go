package identity

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"moltyagent.ai/internal/gameapi"
)

var DefaultNamePrefixes = []string{"IkiscreamBot_"}

// NameGenerator draws display names as prefix plus a 4-digit suffix.
type NameGenerator struct {
	Prefixes []string

	mu sync.Mutex
	r  *rand.Rand
}

func NewNameGenerator(prefixes []string, r *rand.Rand) *NameGenerator {
	if len(prefixes) == 0 {
		prefixes = DefaultNamePrefixes
	}
	return &NameGenerator{Prefixes: prefixes, r: r}
}

// Next returns a name not rejected by taken. taken may be nil.
func (g *NameGenerator) Next(taken func(string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		prefix := g.Prefixes[g.intn(len(g.Prefixes))]
		name := fmt.Sprintf("%s%d", prefix, 1000+g.intn(9000))
		if taken == nil || !taken(name) {
			return name
		}
	}
}

func (g *NameGenerator) intn(n int) int {
	if g.r == nil {
		return rand.Intn(n)
	}
	return g.r.Intn(n)
}

// AccountAPI is the slice of the game client provisioning needs.
type AccountAPI interface {
	CreateAccount(ctx context.Context, name string) (gameapi.Account, error)
}

// APIProvisioner creates accounts through the game API, each from a fresh
// simulated network identity which the new Identity keeps.
type APIProvisioner struct {
	dial  func(gameapi.Credentials) AccountAPI
	names *NameGenerator

	mu sync.Mutex
	r  *rand.Rand
}

func NewAPIProvisioner(client *gameapi.Client, names *NameGenerator, r *rand.Rand) *APIProvisioner {
	return &APIProvisioner{
		dial:  func(c gameapi.Credentials) AccountAPI { return client.With(c) },
		names: names,
		r:     r,
	}
}

func (p *APIProvisioner) Provision(ctx context.Context) (Identity, error) {
	return p.ProvisionNamed(ctx, p.names.Next(nil))
}

func (p *APIProvisioner) ProvisionNamed(ctx context.Context, name string) (Identity, error) {
	p.mu.Lock()
	creds := gameapi.Credentials{}.RefreshNetwork(p.r)
	p.mu.Unlock()

	acc, err := p.dial(creds).CreateAccount(ctx, name)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		AccountID: acc.AccountID,
		Name:      acc.Name,
		APIKey:    acc.APIKey,
		Address:   creds.Address,
		UserAgent: creds.UserAgent,
		CreatedAt: acc.CreatedAt,
	}
	if id.Name == "" {
		id.Name = name
	}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("create account %s: %w", name, err)
	}
	return id, nil
}
