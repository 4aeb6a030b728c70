package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDispatcher_DeliversInRegistrationOrder(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)

	var calls []string

	d.subscribe("tick", func(json.RawMessage) { calls = append(calls, "first") })
	d.subscribe("tick", func(json.RawMessage) { calls = append(calls, "second") })
	d.subscribe("other", func(json.RawMessage) { calls = append(calls, "other") })

	if n := d.dispatch("tick", json.RawMessage(`{}`)); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("unexpected call order: %v", calls)
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)

	var got []string

	d.subscribe("tick", func(json.RawMessage) { got = append(got, "A") })
	d.subscribe("tick", func(json.RawMessage) { panic("boom") })
	d.subscribe("tick", func(p json.RawMessage) { got = append(got, "C:"+string(p)) })

	if n := d.dispatch("tick", json.RawMessage(`1`)); n != 2 {
		t.Errorf("expected 2 successful deliveries, got %d", n)
	}

	if len(got) != 2 || got[0] != "A" || got[1] != "C:1" {
		t.Errorf("handlers after a panic must still run, got %v", got)
	}
}

func TestDispatcher_UnsubscribeIdempotent(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)

	calls := 0
	unsubscribe := d.subscribe("tick", func(json.RawMessage) { calls++ })
	d.subscribe("tick", func(json.RawMessage) {})

	unsubscribe()
	unsubscribe()

	if n := d.count("tick"); n != 1 {
		t.Errorf("expected 1 handler left, got %d", n)
	}

	d.dispatch("tick", nil)

	if calls != 0 {
		t.Errorf("removed handler was called %d times", calls)
	}
}

func TestDispatcher_SnapshotDuringDispatch(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)

	var (
		lateCalls   int
		secondCalls int
		unsubSecond func()
	)

	d.subscribe("tick", func(json.RawMessage) {
		d.subscribe("tick", func(json.RawMessage) { lateCalls++ })
		unsubSecond()
	})
	unsubSecond = d.subscribe("tick", func(json.RawMessage) { secondCalls++ })

	d.dispatch("tick", nil)

	if lateCalls != 0 {
		t.Errorf("handler added during dispatch ran %d times", lateCalls)
	}

	if secondCalls != 1 {
		t.Errorf("handler removed during dispatch should still run once, ran %d", secondCalls)
	}

	d.dispatch("tick", nil)

	if lateCalls != 1 {
		t.Errorf("expected late handler on next dispatch, ran %d", lateCalls)
	}
}

func TestDispatcher_NoSubscribers(t *testing.T) {
	d := newDispatcher(discardLogger(), nil)

	if n := d.dispatch("nobody", nil); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}

	if unsubscribe := d.subscribe("tick", nil); unsubscribe == nil {
		t.Error("expected no-op unsubscribe for nil handler")
	}

	if n := d.count("tick"); n != 0 {
		t.Errorf("nil handler must not be registered, got %d", n)
	}
}

func TestEventQueue_FIFOAndDrainAfterClose(t *testing.T) {
	q := newEventQueue()

	for _, name := range []string{"a", "b", "c"} {
		if !q.push(&Event{Name: name}) {
			t.Fatalf("push %q rejected", name)
		}
	}

	q.close()

	if q.push(&Event{Name: "late"}) {
		t.Error("push after close should be rejected")
	}

	var got []string
	for {
		ev, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, ev.Name)
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestEventQueue_PopBlocksUntilPush(t *testing.T) {
	q := newEventQueue()

	popped := make(chan string, 1)
	go func() {
		ev, ok := q.pop()
		if ok {
			popped <- ev.Name
		}
		close(popped)
	}()

	select {
	case name := <-popped:
		t.Fatalf("pop returned %q before any push", name)
	case <-time.After(50 * time.Millisecond):
	}

	q.push(&Event{Name: "tick"})

	select {
	case name := <-popped:
		if name != "tick" {
			t.Errorf("expected tick, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}
