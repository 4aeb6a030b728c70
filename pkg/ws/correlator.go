package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxIDAttempts = 8

type pendingRequest struct {
	id      string
	method  string
	started time.Time

	once   sync.Once
	doneCh chan struct{}
	body   json.RawMessage
	err    error

	// onDone runs once, after the outcome is stored, outside any lock.
	onDone func(body json.RawMessage, err error)
}

func (p *pendingRequest) done() <-chan struct{} {
	return p.doneCh
}

func (p *pendingRequest) result() (json.RawMessage, error) {
	return p.body, p.err
}

func (p *pendingRequest) finish(body json.RawMessage, err error) bool {
	finished := false

	p.once.Do(func() {
		p.body = body
		p.err = err
		close(p.doneCh)
		finished = true
	})

	if finished && p.onDone != nil {
		p.onDone(body, err)
	}

	return finished
}

type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	newID   func() string
	logger  *slog.Logger
	metrics *Metrics
}

func newCorrelator(newID func() string, logger *slog.Logger, metrics *Metrics) *correlator {
	if newID == nil {
		newID = uuid.NewString
	}

	return &correlator{
		pending: make(map[string]*pendingRequest),
		newID:   newID,
		logger:  logger,
		metrics: metrics,
	}
}

// register creates a pending entry under an id unique among pending entries.
func (c *correlator) register(method string, onDone func(json.RawMessage, error)) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for range maxIDAttempts {
		id := c.newID()
		if id == "" {
			continue
		}

		if _, taken := c.pending[id]; taken {
			continue
		}

		p := &pendingRequest{
			id:      id,
			method:  method,
			started: time.Now(),
			doneCh:  make(chan struct{}),
			onDone:  onDone,
		}
		c.pending[id] = p
		c.metrics.requestStarted()

		return p, nil
	}

	return nil, errors.New("could not allocate a unique request id")
}

func (c *correlator) take(id string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}

	return p, ok
}

// resolve completes the entry matching resp.ID. It reports false for a
// response nobody is waiting for.
func (c *correlator) resolve(resp *Response) bool {
	p, ok := c.take(resp.ID)
	if !ok {
		c.metrics.unknownResponse()
		c.logger.Warn("dropping response", "id", resp.ID, "ok", resp.OK, "error", ErrUnknownResponse)
		return false
	}

	if resp.OK {
		c.complete(p, resp.Result(), nil)
		return true
	}

	c.complete(p, nil, remoteErrorFrom(p.method, resp.Error))

	return true
}

// reject fails one pending entry. It reports false if the entry already
// finished.
func (c *correlator) reject(id string, err error) bool {
	p, ok := c.take(id)
	if !ok {
		return false
	}

	c.complete(p, nil, err)

	return true
}

// drain detaches every pending entry. The caller rejects them after
// releasing its own locks.
func (c *correlator) drain() []*pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		out = append(out, p)
		delete(c.pending, id)
	}

	return out
}

func (c *correlator) rejectAll(entries []*pendingRequest, err error) {
	for _, p := range entries {
		c.complete(p, nil, err)
	}
}

func (c *correlator) complete(p *pendingRequest, body json.RawMessage, err error) {
	if !p.finish(body, err) {
		return
	}

	c.metrics.requestFinished(p.method, outcomeOf(err), time.Since(p.started))
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrRemote):
		return outcomeRemote
	case errors.Is(err, ErrRequestTimeout):
		return outcomeTimeout
	case errors.Is(err, ErrConnectionClosed):
		return outcomeClosed
	case errors.Is(err, ErrRequestCanceled):
		return outcomeCanceled
	default:
		return outcomeFailed
	}
}
