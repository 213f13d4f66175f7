package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if err := f.Sleep(context.Background(), 500*time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}

	if got := f.Now(); !got.Equal(start.Add(2500 * time.Millisecond)) {
		t.Fatalf("now=%v", got)
	}
	if got := f.Sleeps(); len(got) != 2 || got[0] != 2*time.Second || got[1] != 500*time.Millisecond {
		t.Fatalf("sleeps=%v", got)
	}
	if f.Total() != 2500*time.Millisecond {
		t.Fatalf("total=%v", f.Total())
	}
}

func TestFakeSleepHookCanCancel(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	f.OnSleep = func(n int, d time.Duration) {
		if n == 2 {
			cancel()
		}
	}

	if err := f.Sleep(ctx, time.Second); err != nil {
		t.Fatalf("first sleep: %v", err)
	}
	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on cancelled ctx, got %v", err)
	}
	if len(f.Sleeps()) != 2 {
		t.Fatalf("sleeps after cancel should not be recorded: %v", f.Sleeps())
	}
}

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
