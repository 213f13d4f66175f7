package events

import (
	"testing"
	"time"
)

func TestEmitter_FansOutInOrder(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var order []string
	var lines []string
	e := NewEmitter("run-1", func() time.Time { return now },
		SinkFunc(func(ev Event) { order = append(order, "a:"+string(ev.Kind)) }),
		LineSink(func(s string) { lines = append(lines, s) }),
	)
	e.SetAccount("Narto_1")
	e.Emit(KindAction, "Attack foe", map[string]any{"ep": 7, "target": "a2"})

	if len(order) != 1 || order[0] != "a:action" {
		t.Fatalf("order=%v", order)
	}
	if len(lines) != 1 || lines[0] != "[ACTION] Attack foe ep=7 target=a2" {
		t.Fatalf("lines=%q", lines)
	}

	var got Event
	e.Add(SinkFunc(func(ev Event) { got = ev }))
	e.Emitf(KindWait, "sleep %dms", 500)
	if got.RunID != "run-1" || got.Account != "Narto_1" || !got.Time.Equal(now) || got.Message != "sleep 500ms" {
		t.Fatalf("event=%+v", got)
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	e.Emit(KindStart, "x", nil)
	e.SetAccount("y")
	e.Add(SinkFunc(func(Event) {}))
	if e.RunID() != "" {
		t.Fatalf("expected empty run id")
	}
}
