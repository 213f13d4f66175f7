package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moltyagent.ai/internal/clock"
)

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// sleepCtx reports whether the full pause elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	return clock.Real().Sleep(ctx, d) == nil
}
