package ws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "ws://localhost:18789"
	// DefaultOrigin satisfies the gateway's control UI origin check.
	DefaultOrigin = "http://localhost:18789"
)

type ClientConfig struct {
	URL             string
	Token           string
	Origin          string
	ProtocolVersion int
	Identity        ClientIdentity

	// RequestTimeout is the default deadline of a request; WithTimeout
	// overrides it per call. Zero disables it.
	RequestTimeout time.Duration
	// HandshakeTimeout bounds one connect attempt: dial plus handshake.
	HandshakeTimeout time.Duration

	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int

	// RequestsPerSecond limits outbound requests when positive.
	RequestsPerSecond float64
	RequestBurst      int

	TLS    *tls.Config
	Dialer Dialer

	// IDGenerator returns correlation ids. Defaults to random UUIDs.
	IDGenerator func() string

	Logger  *slog.Logger
	Metrics *Metrics
}

func DefaultClientConfig(wsURL, token string) ClientConfig {
	return ClientConfig{
		URL:                  wsURL,
		Token:                token,
		Origin:               DefaultOrigin,
		ProtocolVersion:      ProtocolVersion,
		Identity:             DefaultClientIdentity(),
		RequestTimeout:       30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		MaxReconnectAttempts: 0,
		Logger:               slog.Default(),
	}
}

type connectAttempt struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *connectAttempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

type connection struct {
	transport  Transport
	writeMu    sync.Mutex
	attempt    *connectAttempt
	events     *eventQueue
	challenged atomic.Bool
	closing    atomic.Bool
	done       chan struct{}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Client is a gateway protocol client. It is safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	dialer  Dialer
	pending *correlator
	events  *dispatcher
	limiter *rate.Limiter
	metrics *Metrics

	connectGroup singleflight.Group

	mu       sync.Mutex
	state    State
	conn     *connection
	shutdown bool
	done     chan struct{}
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = ProtocolVersion
	}

	if cfg.Identity == (ClientIdentity{}) {
		cfg.Identity = DefaultClientIdentity()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{TLS: cfg.TLS, HandshakeTimeout: cfg.HandshakeTimeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.RequestBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		dialer:  dialer,
		pending: newCorrelator(cfg.IDGenerator, cfg.Logger, cfg.Metrics),
		events:  newDispatcher(cfg.Logger, cfg.Metrics),
		limiter: limiter,
		metrics: cfg.Metrics,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
	c.metrics.stateChanged(StateIdle)

	return c
}

// Connect returns once the handshake has completed. Concurrent callers share
// one connect attempt; ctx only bounds the caller's own wait.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.shutdown:
		c.mu.Unlock()
		return ErrConnectionClosed
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ch := c.connectGroup.DoChan("connect", func() (any, error) {
		return nil, c.connect()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connect() error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrConnectionClosed
	}

	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}

	attempt := newConnectAttempt()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if c.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	}
	defer cancel()

	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	c.logger.Info("connecting to gateway", slog.String("url", u.Redacted()))

	transport, err := c.dialer.Dial(ctx, u.String(), header)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateClosed)
		c.mu.Unlock()

		err = &TransportError{Op: "dial", Err: err}
		c.logger.Error("failed to connect to gateway", "url", u.Redacted(), "error", err)

		return err
	}

	conn := &connection{
		transport: transport,
		attempt:   attempt,
		events:    newEventQueue(),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.shutdown {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		_ = transport.Close()

		return ErrConnectionClosed
	}

	c.conn = conn
	c.setStateLocked(StateAwaitingChallenge)
	c.mu.Unlock()

	c.logger.Info("connected to gateway, awaiting challenge", "url", u.Redacted())

	go c.readLoop(conn)
	go c.pumpEvents(conn)

	select {
	case <-attempt.done:
	case <-ctx.Done():
		attempt.finish(&TransportError{Op: "handshake", Err: ctx.Err()})
	}

	if attempt.err != nil {
		c.dropConnection(conn)
		return attempt.err
	}

	c.logger.Info("gateway handshake completed", "url", u.Redacted())

	return nil
}

func (c *Client) readLoop(conn *connection) {
	var cause error

	defer func() {
		c.connectionLost(conn, cause)
	}()

	for {
		raw, err := conn.transport.ReadFrame()
		if err != nil {
			cause = err

			if conn.closing.Load() || isExpectedClose(err) {
				c.logger.Debug("connection closed", "error", err)
			} else {
				c.logger.Error("read error", "error", err)
			}

			return
		}

		msg, err := DecodeFrame(raw)
		if err != nil {
			c.metrics.frameDropped(frameErrorReason(err))
			c.logger.Warn("failed to decode frame", "error", err)

			continue
		}

		c.route(conn, msg)
	}
}

func (c *Client) route(conn *connection, msg Message) {
	switch m := msg.(type) {
	case *Event:
		if m.Name == ChallengeEvent {
			c.handleChallenge(conn, m)
			return
		}

		conn.events.push(m)

	case *Response:
		c.pending.resolve(m)

	case *Request:
		c.logger.Debug("ignoring server-initiated request", "id", m.ID, "method", m.Method)
	}
}

func (c *Client) connectionLost(conn *connection, cause error) {
	if cause == nil {
		cause = ErrConnectionClosed
	}

	conn.attempt.finish(&TransportError{Op: "read", Err: cause})
	c.dropConnection(conn)
	conn.events.close()
	close(conn.done)
}

// pumpEvents delivers the events of conn in arrival order. Handlers run here
// rather than on the read loop, so a handler may issue requests of its own.
func (c *Client) pumpEvents(conn *connection) {
	for {
		ev, ok := conn.events.pop()
		if !ok {
			return
		}

		c.events.dispatch(ev.Name, ev.Payload)
	}
}

// dropConnection closes conn and, if it is still the current connection,
// moves to Closed and rejects every pending request.
func (c *Client) dropConnection(conn *connection) {
	var orphans []*pendingRequest

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.setStateLocked(StateClosed)
		orphans = c.pending.drain()
	}
	c.mu.Unlock()

	conn.closing.Store(true)
	_ = conn.transport.Close()

	if len(orphans) > 0 {
		c.logger.Warn("rejecting pending requests on disconnect", "count", len(orphans))
		c.pending.rejectAll(orphans, ErrConnectionClosed)
	}
}

func (c *Client) write(conn *connection, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	return conn.transport.WriteFrame(data)
}

// send registers a pending request on the current connection and writes it.
func (c *Client) send(method string, params any) (*pendingRequest, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.Lock()
	if c.shutdown || c.conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	conn := c.conn

	p, err := c.pending.register(method, nil)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if err := c.write(conn, &Request{ID: p.id, Method: method, Params: raw}); err != nil {
		err = &TransportError{Op: "write", Err: err}
		c.pending.reject(p.id, err)
		c.dropConnection(conn)

		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return p, nil
}

// Go connects if needed, sends the request and returns without waiting for
// the response.
func (c *Client) Go(ctx context.Context, method string, params any) (*Call, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	p, err := c.send(method, params)
	if err != nil {
		return nil, err
	}

	return &Call{client: c, p: p}, nil
}

func (c *Client) Request(ctx context.Context, method string, params any, opts ...RequestOption) (json.RawMessage, error) {
	call, err := c.Go(ctx, method, params)
	if err != nil {
		return nil, err
	}

	return call.Wait(ctx, opts...)
}

func (c *Client) RequestTyped(ctx context.Context, method string, params any, response any, opts ...RequestOption) error {
	body, err := c.Request(ctx, method, params, opts...)
	if err != nil {
		return err
	}

	if response == nil || len(body) == 0 {
		return nil
	}

	return json.Unmarshal(body, response)
}

// Subscribe registers handler for a pushed event. Subscriptions outlive
// reconnects. The returned function removes the handler and may be called
// any number of times.
func (c *Client) Subscribe(event string, handler EventHandler) func() {
	return c.events.subscribe(event, handler)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnected returns a channel closed when the current connection ends.
// Without a connection the channel is already closed.
func (c *Client) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return closedChan
	}

	return c.conn.done
}

// Close shuts the client down for good. Pending requests fail with
// ErrConnectionClosed and later calls return it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}

	c.shutdown = true
	close(c.done)
	conn := c.conn
	if conn == nil {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	if conn != nil {
		c.dropConnection(conn)
	}

	return nil
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Reconnect retries Connect with exponential backoff until it succeeds,
// ctx ends, the gateway rejects the token or MaxReconnectAttempts is hit.
func (c *Client) Reconnect(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrAuth) || c.IsClosed() {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("%w: %w", ErrMaxReconnectAttempts, err)
		}

		delay := backoffDelay(c.cfg.ReconnectInterval, c.cfg.MaxReconnectInterval, attempts)
		c.logger.Warn("reconnect failed, retrying", "attempt", attempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}

	c.state = s
	c.metrics.stateChanged(s)
	c.logger.Debug("connection state changed", "state", s.String())
}

func frameErrorReason(err error) string {
	if errors.Is(err, ErrUnsupportedFrame) {
		return "unsupported_shape"
	}

	return "invalid"
}
