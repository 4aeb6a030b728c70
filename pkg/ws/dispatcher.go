package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// EventHandler receives the payload of a pushed event. Handlers of one
// connection run sequentially on its dispatch goroutine in arrival order, so a
// slow handler delays later events but never responses.
type EventHandler func(payload json.RawMessage)

type subscription struct {
	token   uint64
	handler EventHandler
}

type dispatcher struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string][]subscription
	logger   *slog.Logger
	metrics  *Metrics
}

func newDispatcher(logger *slog.Logger, metrics *Metrics) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]subscription),
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *dispatcher) subscribe(event string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	d.mu.Lock()
	d.next++
	token := d.next
	d.handlers[event] = append(d.handlers[event], subscription{token: token, handler: handler})
	d.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { d.remove(event, token) })
	}
}

func (d *dispatcher) remove(event string, token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.handlers[event]
	for i, s := range subs {
		if s.token != token {
			continue
		}

		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)

		if len(rest) == 0 {
			delete(d.handlers, event)
		} else {
			d.handlers[event] = rest
		}

		return
	}
}

// dispatch delivers payload to the handlers registered when it starts and
// returns how many of them completed without panicking.
func (d *dispatcher) dispatch(event string, payload json.RawMessage) int {
	d.mu.Lock()
	snapshot := d.handlers[event]
	d.mu.Unlock()

	d.metrics.eventDispatched(event)

	if len(snapshot) == 0 {
		d.logger.Debug("no subscribers for event", "event", event)
		return 0
	}

	delivered := 0
	for _, s := range snapshot {
		if d.invoke(event, s.handler, payload) {
			delivered++
		}
	}

	return delivered
}

func (d *dispatcher) invoke(event string, handler EventHandler, payload json.RawMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.handlerPanicked(event)
			d.logger.Error("event handler panicked",
				"event", event,
				"error", fmt.Sprint(r),
			)
			ok = false
		}
	}()

	handler(payload)

	return true
}

func (d *dispatcher) count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[event])
}

// eventQueue is an unbounded FIFO between the read loop of a connection and
// its dispatch goroutine. The read loop never blocks on push.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *eventQueue) push(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, ev)
	q.cond.Signal()

	return true
}

// close stops accepting events. Events already queued are still handed out.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// pop blocks until an event is available. It reports false once the queue is
// closed and empty.
func (q *eventQueue) pop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return nil, false
	}

	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return ev, true
}
