// Package events carries agent transitions to whoever hosts the loop.
package events

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies the type of agent event.
type Kind string

const (
	KindStart     Kind = "start"
	KindStop      Kind = "stop"
	KindPhase     Kind = "phase"
	KindDiscovery Kind = "discovery"
	KindRegister  Kind = "register"
	KindAdopt     Kind = "adopt"
	KindClear     Kind = "clear"
	KindStatus    Kind = "status"
	KindDecision  Kind = "decision"
	KindAction    Kind = "action"
	KindFailure   Kind = "failure"
	KindWait      Kind = "wait"
	KindDeath     Kind = "death"
	KindIdentity  Kind = "identity"
	KindPool      Kind = "pool"
	KindNetwork   Kind = "network"
)

// Event is one significant transition. Data holds flat, JSON-friendly
// values only.
type Event struct {
	Kind    Kind           `json:"kind"`
	Time    time.Time      `json:"time"`
	RunID   string         `json:"run_id,omitempty"`
	Account string         `json:"account,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Line renders e the way the agent prints to its console.
func (e Event) Line() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(string(e.Kind)))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	return b.String()
}

type Sink interface {
	Handle(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

// LineSink adapts a plain line callback.
func LineSink(fn func(string)) Sink {
	return SinkFunc(func(e Event) { fn(e.Line()) })
}

// Emitter stamps events and fans them out to every sink in order. Sinks are
// called synchronously and must not block.
type Emitter struct {
	runID   string
	account string
	now     func() time.Time

	mu    sync.Mutex
	sinks []Sink
}

func NewEmitter(runID string, now func() time.Time, sinks ...Sink) *Emitter {
	if now == nil {
		now = time.Now
	}
	return &Emitter{runID: runID, now: now, sinks: sinks}
}

func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	return e.runID
}

func (e *Emitter) Add(s Sink) {
	if e == nil || s == nil {
		return
	}
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// SetAccount tags subsequent events with the active display name.
func (e *Emitter) SetAccount(name string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.account = name
	e.mu.Unlock()
}

// Emit is safe on a nil Emitter.
func (e *Emitter) Emit(kind Kind, msg string, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	ev := Event{
		Kind:    kind,
		Time:    e.now(),
		RunID:   e.runID,
		Account: e.account,
		Message: msg,
		Data:    data,
	}
	sinks := append([]Sink(nil), e.sinks...)
	e.mu.Unlock()

	for _, s := range sinks {
		s.Handle(ev)
	}
}

func (e *Emitter) Emitf(kind Kind, format string, args ...any) {
	e.Emit(kind, fmt.Sprintf(format, args...), nil)
}
