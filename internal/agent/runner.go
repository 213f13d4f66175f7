// Package agent hosts the autonomous loop for one identity.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"moltyagent.ai/internal/classify"
	"moltyagent.ai/internal/clock"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/session"
	"moltyagent.ai/internal/strategy"
)

// Cooldowns are the loop's own waits; the session machine's waits are in
// session.Timings.
type Cooldowns struct {
	Major        time.Duration
	MajorJitter  time.Duration
	Minor        time.Duration
	AlreadyActed time.Duration
	ActionFailed time.Duration
	Rotation     time.Duration
	CycleRestart time.Duration
}

func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Major:        5500 * time.Millisecond,
		MajorJitter:  3 * time.Second,
		Minor:        500 * time.Millisecond,
		AlreadyActed: 3 * time.Second,
		ActionFailed: 5 * time.Second,
		Rotation:     10 * time.Second,
		CycleRestart: 10 * time.Second,
	}
}

type Options struct {
	Dial session.Dialer
	// Pool supplies replacement identities on death. Without a pool every
	// rotation attempt fails and the loop keeps retrying.
	Pool      *identity.Pool
	Engine    *strategy.Engine
	Clock     clock.Clock
	Events    *events.Emitter
	Session   session.Config
	Cooldowns Cooldowns
	// Seed drives every jitter draw. Zero picks a time-based seed.
	Seed int64
}

// Runner plays one identity at a time until its context ends. It holds no
// goroutines of its own.
type Runner struct {
	dial   session.Dialer
	pool   *identity.Pool
	engine *strategy.Engine
	clk    clock.Clock
	ev     *events.Emitter
	scfg   session.Config
	cd     Cooldowns
	rng    *rand.Rand

	machine *session.Machine
	cat     strategy.Catalogue
	catGame string
}

func New(opts Options) (*Runner, error) {
	if opts.Dial == nil {
		return nil, errors.New("agent: dialer is required")
	}
	if opts.Engine == nil {
		opts.Engine = strategy.New(strategy.DefaultThresholds())
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Events == nil {
		opts.Events = events.NewEmitter(uuid.NewString(), opts.Clock.Now)
	}
	if opts.Cooldowns == (Cooldowns{}) {
		opts.Cooldowns = DefaultCooldowns()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		dial:   opts.Dial,
		pool:   opts.Pool,
		engine: opts.Engine,
		clk:    opts.Clock,
		ev:     opts.Events,
		scfg:   opts.Session,
		cd:     opts.Cooldowns,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Machine exposes the running state machine; nil before Run.
func (r *Runner) Machine() *session.Machine { return r.machine }

// Run plays as id until ctx is cancelled and then returns ctx.Err(). Remote
// failures never end the loop.
func (r *Runner) Run(ctx context.Context, id identity.Identity) error {
	r.machine = session.NewMachine(r.dial, id, r.scfg, r.ev, r.rng)
	r.ev.Emit(events.KindStart, "=== Molty Royale Agent Starting: "+id.Name+" ===", map[string]any{"run_id": r.ev.RunID()})
	defer r.ev.Emit(events.KindStop, "agent stopped", nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if r.machine.Session().Empty() {
			err = r.discover(ctx)
		} else {
			err = r.tick(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (r *Runner) discover(ctx context.Context) error {
	out := r.machine.Discover(ctx)
	return r.sleep(ctx, out.Wait)
}

// tick runs one PLAYING iteration: poll, then decide and submit.
func (r *Runner) tick(ctx context.Context) error {
	m := r.machine
	if r.cat == nil || r.catGame != m.Session().GameID {
		r.loadCatalogue(ctx)
	}

	step := m.Poll(ctx)
	switch step.Kind {
	case session.StepRetry, session.StepWaiting:
		return r.sleep(ctx, step.Wait)
	case session.StepLost:
		return r.cycleRestart(ctx)
	case session.StepDead:
		if err := r.rotate(ctx); err != nil {
			return err
		}
		return r.cycleRestart(ctx)
	}

	r.status(step)
	in := r.engine.Decide(step.State, r.cat)
	r.ev.Emit(events.KindDecision, fmt.Sprintf("%s | %s", in.Type, in.Rationale), map[string]any{"rule": in.Rule})

	_, err := m.Act(ctx, in.Action(), in.Thought())
	return r.sleep(ctx, r.actionCooldown(in, err))
}

func (r *Runner) actionCooldown(in strategy.Intent, err error) time.Duration {
	if err == nil {
		if in.Type.Class() == strategy.Minor {
			r.ev.Emit(events.KindAction, "Minor action detected. Fast safety pause.", map[string]any{"type": string(in.Type)})
			return r.cd.Minor
		}
		d := session.Jitter(r.rng, r.cd.Major, r.cd.MajorJitter)
		r.ev.Emitf(events.KindAction, "Action cooldown: %s including jitter...", d.Round(time.Millisecond))
		return d
	}

	c := classify.Classify(err)
	r.ev.Emit(events.KindFailure, "act: "+err.Error(), map[string]any{"class": c.String()})
	switch {
	case c.Kind == classify.TransientNetwork:
		t := r.scfg.Timings
		if t == (session.Timings{}) {
			t = session.DefaultTimings()
		}
		return session.Jitter(r.rng, t.NetworkRetry, t.NetworkRetryJitter)
	case c.Is(classify.Conflict, classify.ReasonAlreadyActed):
		return r.cd.AlreadyActed
	}
	return r.cd.ActionFailed
}

// rotate swaps in a free or freshly provisioned identity, retrying after
// the rotation cooldown until it succeeds or ctx ends.
func (r *Runner) rotate(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := r.nextIdentity(ctx)
		if err == nil {
			r.machine.SwapIdentity(next)
			r.cat, r.catGame = nil, ""
			return nil
		}
		r.ev.Emitf(events.KindIdentity, "Critical: Failed to find or create a new account (%v). Waiting %s...", err, r.cd.Rotation)
		if err := r.sleep(ctx, r.cd.Rotation); err != nil {
			return err
		}
	}
}

func (r *Runner) nextIdentity(ctx context.Context) (identity.Identity, error) {
	if r.pool == nil {
		return identity.Identity{}, errors.New("no identity pool")
	}
	dead := r.machine.Active().Identity
	next, ok, err := r.pool.FindFree(ctx, dead.AccountID)
	if err != nil {
		r.ev.Emit(events.KindPool, "pool scan failed", map[string]any{"err": err.Error()})
	}
	if ok {
		return next, nil
	}
	r.ev.Emit(events.KindPool, "No free accounts in pool. Creating NEW fallback account...", nil)
	return r.pool.ProvisionNew(ctx)
}

func (r *Runner) cycleRestart(ctx context.Context) error {
	r.cat, r.catGame = nil, ""
	r.ev.Emitf(events.KindWait, "Game cycle finished. Waiting %s before restarting...", r.cd.CycleRestart)
	return r.sleep(ctx, r.cd.CycleRestart)
}

func (r *Runner) loadCatalogue(ctx context.Context) {
	r.catGame = r.machine.Session().GameID
	items, err := r.machine.Items(ctx)
	if err != nil {
		r.ev.Emit(events.KindFailure, "item catalogue: "+err.Error(), map[string]any{"class": classify.Classify(err).String()})
		r.cat = strategy.Catalogue{}
		return
	}
	r.cat = strategy.NewCatalogue(items.Weapons)
	r.ev.Emitf(events.KindStatus, "Item catalogue loaded: %d weapons", len(r.cat))
}

func (r *Runner) status(step session.Step) {
	self := step.State.Self
	r.ev.Emitf(events.KindStatus, "HP %d/%d | EP %d/%d | Kills %d | Pos: %s",
		self.HP, self.MaxHP, self.EP, self.MaxEP, self.Kills, step.State.CurrentRegion.Name)
	if w := self.EquippedWeapon; w != nil {
		r.ev.Emitf(events.KindStatus, "Equipped: %s (+%d ATK, Range %d)", w.Name, w.AtkBonus, w.Range)
	} else {
		r.ev.Emit(events.KindStatus, "No weapon equipped.", nil)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return r.clk.Sleep(ctx, d)
}
