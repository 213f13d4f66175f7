package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/notify"
)

// Probe reports the match in which id still holds a living seat, or "" when
// it holds none.
type Probe func(ctx context.Context, id Identity) (gameID string, err error)

// Provisioner creates a brand new account.
type Provisioner interface {
	Provision(ctx context.Context) (Identity, error)
}

var ErrNoProvisioner = errors.New("identity: no provisioner configured")

type PoolConfig struct {
	Store       Store
	Probe       Probe
	Provisioner Provisioner
	// Notifier receives one notice per admit. Wrap slow sinks in a
	// notify.Dispatcher; Admit calls Notify inline.
	Notifier notify.Notifier
	Events   *events.Emitter
	// ExportName names the pool attachment on notices.
	ExportName string
}

// Pool is shared by every loop in the process. Store access is serialized;
// seat probes run outside the lock.
type Pool struct {
	mu sync.Mutex

	store      Store
	probe      Probe
	prov       Provisioner
	notifier   notify.Notifier
	ev         *events.Emitter
	exportName string
}

func NewPool(cfg PoolConfig) *Pool {
	n := cfg.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	name := cfg.ExportName
	if name == "" {
		name = "dynamic_accounts.json"
	}
	return &Pool{
		store:      cfg.Store,
		probe:      cfg.Probe,
		prov:       cfg.Provisioner,
		notifier:   n,
		ev:         cfg.Events,
		exportName: name,
	}
}

func (p *Pool) List(ctx context.Context) ([]Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Load(ctx)
}

// FindFree returns the first identity, in store order, that holds no living
// seat. Identities whose account id is in exclude are skipped. A probe that
// fails is treated as inconclusive and the identity is skipped.
func (p *Pool) FindFree(ctx context.Context, exclude ...string) (Identity, bool, error) {
	p.mu.Lock()
	all, err := p.store.Load(ctx)
	probe := p.probe
	p.mu.Unlock()
	if err != nil {
		return Identity{}, false, fmt.Errorf("load pool: %w", err)
	}
	if len(all) == 0 {
		return Identity{}, false, nil
	}
	if probe == nil {
		return Identity{}, false, errors.New("identity: no seat probe configured")
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	p.ev.Emitf(events.KindPool, "Checking %d accounts in rotation pool...", len(all))
	for _, id := range all {
		if err := ctx.Err(); err != nil {
			return Identity{}, false, err
		}
		if _, ok := skip[id.AccountID]; ok {
			continue
		}
		gameID, err := probe(ctx, id)
		if err != nil {
			p.ev.Emit(events.KindPool, "Probe inconclusive for "+id.Name, map[string]any{"err": err.Error()})
			continue
		}
		if gameID == "" {
			p.ev.Emitf(events.KindPool, "Account %s is FREE. Recycling...", id.Name)
			return id, true, nil
		}
		p.ev.Emitf(events.KindPool, "Account %s is still active in game: %s", id.Name, gameID)
	}
	return Identity{}, false, nil
}

// Admit upserts id and sends a notice carrying the updated pool export.
// Notification failures are reported as events only.
func (p *Pool) Admit(ctx context.Context, id Identity) (Identity, error) {
	p.mu.Lock()
	stored, err := p.store.Upsert(ctx, id)
	var export []byte
	if err == nil {
		export, _ = p.exportLocked(ctx)
	}
	p.mu.Unlock()
	if err != nil {
		return Identity{}, fmt.Errorf("admit %s: %w", id.AccountID, err)
	}

	n := notify.Notice{
		ID:      uuid.NewString(),
		Account: stored.AccountID,
		Title:   "New Account Created!",
		Fields: []notify.Field{
			{Name: "ID", Value: stored.AccountID},
			{Name: "Name", Value: stored.Name},
			{Name: "API Key", Value: stored.APIKey},
		},
		Attachment:     export,
		AttachmentName: p.exportName,
		Caption:        "Database Update: Added " + stored.Name,
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.ev.Emit(events.KindPool, "notification failed", map[string]any{"err": err.Error()})
	}
	return stored, nil
}

// ProvisionNew creates an account through the provisioner and admits it.
func (p *Pool) ProvisionNew(ctx context.Context) (Identity, error) {
	if p.prov == nil {
		return Identity{}, ErrNoProvisioner
	}
	id, err := p.prov.Provision(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("provision: %w", err)
	}
	stored, err := p.Admit(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	p.ev.Emitf(events.KindPool, "New account created and added to pool: %s", stored.Name)
	return stored, nil
}

// Export renders the pool as the indented JSON array the file store uses.
func (p *Pool) Export(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exportLocked(ctx)
}

func (p *Pool) exportLocked(ctx context.Context) ([]byte, error) {
	all, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []Identity{}
	}
	return json.MarshalIndent(all, "", "  ")
}
