// Package gatewaytest runs an in-process gateway for exercising ws.Client
// against a real websocket.
package gatewaytest

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
)

// ErrNoMessage makes a handler's failure response carry no error object.
var ErrNoMessage = errors.New("failure without message")

var ErrMethodNotFound = errors.New("method not found")

// Handler serves one method. Returning a *ws.Response sends it as is with
// the request's id.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

type Config struct {
	// Token is the expected auth token; empty accepts any token.
	Token string

	ProtocolVersion  int
	ChallengePayload any

	// SkipChallenge leaves the connection silent after upgrade.
	SkipChallenge bool

	// TLS serves wss:// with a self-signed certificate.
	TLS bool

	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	authed  atomic.Bool
}

type Server struct {
	URL string

	cfg      Config
	upgrader websocket.Upgrader
	handlers map[string]Handler
	mu       sync.RWMutex
	logger   *slog.Logger
	http     *httptest.Server

	closeOnce sync.Once

	peersMu  sync.Mutex
	peers    map[*peer]struct{}
	upgrades atomic.Int64

	recordMu sync.Mutex
	requests []*ws.Request
	origins  []string
}

// NewServer starts a gateway on a local port. URL holds its ws:// address.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = ws.ProtocolVersion
	}

	if cfg.ChallengePayload == nil {
		cfg.ChallengePayload = map[string]any{"nonce": "test-nonce"}
	}

	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		handlers: make(map[string]Handler),
		logger:   cfg.Logger,
		peers:    make(map[*peer]struct{}),
	}

	s.http = httptest.NewUnstartedServer(s)
	if cfg.TLS {
		s.http.StartTLS()
	} else {
		s.http.Start()
	}

	s.URL = "ws" + strings.TrimPrefix(s.http.URL, "http")

	return s
}

// Certificate returns the server certificate of a TLS gateway, nil otherwise.
func (s *Server) Certificate() *x509.Certificate {
	return s.http.Certificate()
}

// Close drops every connection and stops the server. It is safe to call
// more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.DropConnections()
		s.http.Close()
	})
}

func (s *Server) Handle(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

func (s *Server) getHandler(method string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

// Upgrades returns how many websocket connections were accepted.
func (s *Server) Upgrades() int {
	return int(s.upgrades.Load())
}

// Requests returns every request received so far, connect requests included.
func (s *Server) Requests() []*ws.Request {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	return append([]*ws.Request(nil), s.requests...)
}

// Origins returns the Origin header of every accepted connection.
func (s *Server) Origins() []string {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	return append([]string(nil), s.origins...)
}

// Broadcast pushes an event to every open connection.
func (s *Server) Broadcast(event string, payload any) error {
	ev, err := ws.NewEvent(event, payload)
	if err != nil {
		return err
	}

	data, err := ws.EncodeMessage(ev)
	if err != nil {
		return err
	}

	return s.SendRaw(websocket.TextMessage, data)
}

// SendRaw writes data unchanged to every open connection.
func (s *Server) SendRaw(messageType int, data []byte) error {
	var errs []error

	for _, p := range s.snapshotPeers() {
		if err := p.write(messageType, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DropConnections closes every connection without a close handshake.
func (s *Server) DropConnections() {
	for _, p := range s.snapshotPeers() {
		_ = p.conn.Close()
	}
}

func (s *Server) snapshotPeers() []*peer {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	out := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}

	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.upgrades.Add(1)
	s.recordMu.Lock()
	s.origins = append(s.origins, r.Header.Get("Origin"))
	s.recordMu.Unlock()

	p := &peer{conn: conn}

	s.peersMu.Lock()
	s.peers[p] = struct{}{}
	s.peersMu.Unlock()

	defer func() {
		s.peersMu.Lock()
		delete(s.peers, p)
		s.peersMu.Unlock()
	}()

	s.logger.Debug("client connected", "remote_addr", conn.RemoteAddr())
	defer s.logger.Debug("client disconnected", "remote_addr", conn.RemoteAddr())

	if !s.cfg.SkipChallenge {
		ev, err := ws.NewEvent(ws.ChallengeEvent, s.cfg.ChallengePayload)
		if err != nil {
			s.logger.Error("failed to build challenge", "error", err)
			return
		}

		s.sendMessage(p, ev)
	}

	s.handleConnection(r.Context(), p)
}

func (s *Server) handleConnection(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Debug("read error", "error", err)
			}

			return
		}

		msg, err := ws.DecodeFrame(data)
		if err != nil {
			s.logger.Error("failed to decode frame", "error", err)
			continue
		}

		req, ok := msg.(*ws.Request)
		if !ok {
			continue
		}

		s.recordMu.Lock()
		s.requests = append(s.requests, req)
		s.recordMu.Unlock()

		if !p.authed.Load() {
			s.authenticate(ctx, p, req)
			continue
		}

		go s.processRequest(ctx, p, req)
	}
}

// authenticate runs inline so no request is served before the connect
// response is written.
func (s *Server) authenticate(ctx context.Context, p *peer, req *ws.Request) {
	if req.Method != ws.ConnectMethod {
		s.sendMessage(p, ws.NewErrorResponse(req.ID, errors.New("handshake required")))
		return
	}

	if handler, ok := s.getHandler(ws.ConnectMethod); ok {
		result, err := handler(ctx, req.Params)
		resp := s.buildResponse(req.ID, result, err)
		if resp.OK {
			p.authed.Store(true)
		}

		s.sendMessage(p, resp)

		return
	}

	if err := s.checkConnect(req); err != nil {
		s.sendMessage(p, ws.NewErrorResponse(req.ID, err))
		return
	}

	p.authed.Store(true)

	resp, _ := ws.NewResponse(req.ID, map[string]any{"protocol": s.cfg.ProtocolVersion})
	s.sendMessage(p, resp)
}

func (s *Server) checkConnect(req *ws.Request) error {
	var params ws.ConnectParams
	if err := req.UnmarshalParams(&params); err != nil {
		return fmt.Errorf("invalid connect params: %w", err)
	}

	if params.Role != ws.RoleOperator {
		return fmt.Errorf("unsupported role %q", params.Role)
	}

	v := s.cfg.ProtocolVersion
	if params.MinProtocol > v || params.MaxProtocol < v {
		return fmt.Errorf("protocol %d not in [%d, %d]", v, params.MinProtocol, params.MaxProtocol)
	}

	if s.cfg.Token != "" && params.Auth.Token != s.cfg.Token {
		return errors.New("invalid token")
	}

	return nil
}

func (s *Server) processRequest(ctx context.Context, p *peer, req *ws.Request) {
	handler, ok := s.getHandler(req.Method)
	if !ok {
		s.sendMessage(p, ws.NewErrorResponse(req.ID, fmt.Errorf("%w: %s", ErrMethodNotFound, req.Method)))
		return
	}

	result, err := handler(ctx, req.Params)
	s.sendMessage(p, s.buildResponse(req.ID, result, err))
}

func (s *Server) buildResponse(id string, result any, err error) *ws.Response {
	if errors.Is(err, ErrNoMessage) {
		return &ws.Response{ID: id}
	}

	if err != nil {
		return ws.NewErrorResponse(id, err)
	}

	if resp, ok := result.(*ws.Response); ok {
		out := *resp
		out.ID = id

		return &out
	}

	resp, err := ws.NewResponse(id, result)
	if err != nil {
		return ws.NewErrorResponse(id, err)
	}

	return resp
}

func (s *Server) sendMessage(p *peer, msg ws.Message) {
	data, err := ws.EncodeMessage(msg)
	if err != nil {
		s.logger.Error("failed to marshal message", "error", err)
		return
	}

	if err := p.write(websocket.TextMessage, data); err != nil {
		s.logger.Debug("failed to write message", "error", err)
	}
}

func (p *peer) write(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(messageType, data)
}
