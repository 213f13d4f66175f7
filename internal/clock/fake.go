package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Sleep returns immediately after advancing
// the fake time by d. OnSleep, when set, runs after every recorded sleep and
// receives the 1-based sleep count; tests use it to cancel a loop after a
// number of waits.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration

	OnSleep func(n int, d time.Duration)
}

// NewFake returns a Fake starting at initial.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.current = f.current.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
	n := len(f.sleeps)
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(n, d)
	}
	return ctx.Err()
}

// Advance moves the fake time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

// Sleeps returns a copy of every duration passed to Sleep so far.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// Total is the sum of all recorded sleeps.
func (f *Fake) Total() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum time.Duration
	for _, d := range f.sleeps {
		sum += d
	}
	return sum
}
