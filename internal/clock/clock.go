// Package clock abstracts waiting so that the agent loop can be driven
// deterministically in tests.
//
// Production code uses Real(). Tests use Fake, which never blocks: every
// Sleep advances the fake time and is recorded so assertions can inspect the
// cooldown sequence a loop went through.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used by the loop and its collaborators.
type Clock interface {
	Now() time.Time

	// Sleep pauses for d or until ctx is done, whichever happens first. It
	// returns ctx.Err() when the context ended the wait.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
