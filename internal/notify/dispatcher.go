package notify

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	SentTotal           uint64
	FailTotal           uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// Dispatcher delivers notices on background workers so callers never wait
// on the network. When the queue is full a notice waits at most enqueueWait
// and is then dropped.
type Dispatcher struct {
	next   Notifier
	logger *log.Logger

	jobs        chan Notice
	enqueueWait time.Duration
	attempts    int
	backoff     time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	sentTotal           atomic.Uint64
	failTotal           atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

type DispatcherConfig struct {
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Attempts      int
	Backoff       time.Duration
}

func NewDispatcher(next Notifier, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	d := &Dispatcher{
		next:        next,
		logger:      logger,
		jobs:        make(chan Notice, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
		attempts:    cfg.Attempts,
		backoff:     cfg.Backoff,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for n := range d.jobs {
				d.deliver(n)
			}
		}()
	}
	return d
}

// Notify enqueues n and returns immediately. It never reports delivery
// errors; those are logged by the worker.
func (d *Dispatcher) Notify(_ context.Context, n Notice) error {
	if d == nil || d.next == nil {
		return nil
	}
	d.enqueuedTotal.Add(1)

	select {
	case d.jobs <- n:
		return nil
	default:
	}

	d.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(d.enqueueWait)
	defer timer.Stop()
	select {
	case d.jobs <- n:
	case <-timer.C:
		dropped := d.droppedTotal.Add(1)
		d.printf("notify drop id=%s title=%q reason=queue_saturated dropped_total=%d", n.ID, n.Title, dropped)
	}
	return nil
}

// Close drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(d.jobs),
		QueueCapacity:       cap(d.jobs),
		EnqueuedTotal:       d.enqueuedTotal.Load(),
		QueueSaturatedTotal: d.queueSaturatedTotal.Load(),
		DroppedTotal:        d.droppedTotal.Load(),
		SentTotal:           d.sentTotal.Load(),
		FailTotal:           d.failTotal.Load(),
		LastSuccessUnix:     d.lastSuccessUnix.Load(),
		LastErrorUnix:       d.lastErrorUnix.Load(),
	}
}

func (d *Dispatcher) deliver(n Notice) {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := d.next.Notify(ctx, n)
		cancel()
		if err == nil {
			d.sentTotal.Add(1)
			d.lastSuccessUnix.Store(time.Now().UTC().Unix())
			return
		}
		lastErr = err
		if attempt < d.attempts {
			time.Sleep(time.Duration(attempt*attempt) * d.backoff)
		}
	}
	d.failTotal.Add(1)
	d.lastErrorUnix.Store(time.Now().UTC().Unix())
	d.printf("notify failed id=%s title=%q err=%v", n.ID, n.Title, lastErr)
}

func (d *Dispatcher) printf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
