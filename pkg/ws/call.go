package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type requestOptions struct {
	timeout time.Duration
}

type RequestOption func(*requestOptions)

// WithTimeout overrides ClientConfig.RequestTimeout for one call. A
// non-positive d disables the client deadline; ctx still applies.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// Call is a request that has been sent and may still be awaiting its
// response.
type Call struct {
	client *Client
	p      *pendingRequest
}

func (c *Call) ID() string     { return c.p.id }
func (c *Call) Method() string { return c.p.method }

// Done is closed once the call has an outcome.
func (c *Call) Done() <-chan struct{} { return c.p.done() }

// Cancel rejects the call with ErrRequestCanceled. It reports false if the
// call already had an outcome.
func (c *Call) Cancel() bool {
	return c.client.pending.reject(c.p.id, ErrRequestCanceled)
}

// Wait blocks until the response arrives, the request deadline passes or
// ctx ends. On timeout or cancellation the pending entry is removed, so a
// late response is dropped.
func (c *Call) Wait(ctx context.Context, opts ...RequestOption) (json.RawMessage, error) {
	o := requestOptions{timeout: c.client.cfg.RequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	var expired <-chan time.Time

	if o.timeout > 0 {
		timer := time.NewTimer(o.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.p.done():
		return c.p.result()
	case <-expired:
		c.abandon(ErrRequestTimeout)
	case <-ctx.Done():
		c.abandon(ctx.Err())
	}

	<-c.p.done()

	return c.p.result()
}

func (c *Call) abandon(err error) {
	if c.client.pending.reject(c.p.id, err) {
		c.client.logger.Debug("request abandoned", "id", c.p.id, "method", c.p.method, "error", err)
	}
}

// Future is a Call whose result decodes into T.
type Future[T any] struct {
	call *Call
}

// Send issues method and returns a typed handle for its result.
func Send[T any](ctx context.Context, c *Client, method string, params any) (*Future[T], error) {
	call, err := c.Go(ctx, method, params)
	if err != nil {
		return nil, err
	}

	return &Future[T]{call: call}, nil
}

func (f *Future[T]) ID() string            { return f.call.ID() }
func (f *Future[T]) Done() <-chan struct{} { return f.call.Done() }
func (f *Future[T]) Cancel() bool          { return f.call.Cancel() }

// Await waits like Call.Wait and decodes the body. An empty body yields the
// zero value.
func (f *Future[T]) Await(ctx context.Context, opts ...RequestOption) (T, error) {
	var out T

	body, err := f.call.Wait(ctx, opts...)
	if err != nil {
		return out, err
	}

	if len(body) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", f.call.Method(), err)
	}

	return out, nil
}

// Do sends method and decodes its result into T.
func Do[T any](ctx context.Context, c *Client, method string, params any, opts ...RequestOption) (T, error) {
	f, err := Send[T](ctx, c, method, params)
	if err != nil {
		var zero T
		return zero, err
	}

	return f.Await(ctx, opts...)
}
