package ws

import (
	"encoding/json"
	"errors"
)

const (
	// ProtocolVersion is the only gateway protocol revision this client
	// speaks; it is sent as both minProtocol and maxProtocol.
	ProtocolVersion = 3

	ChallengeEvent = "connect.challenge"
	ConnectMethod  = "connect"
	RoleOperator   = "operator"
)

type ClientIdentity struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Version      string `json:"version"`
	Platform     string `json:"platform"`
	Mode         string `json:"mode"`
	DeviceFamily string `json:"deviceFamily"`
}

func DefaultClientIdentity() ClientIdentity {
	return ClientIdentity{
		ID:           "webchat",
		DisplayName:  "OpenClaw OS",
		Version:      "0.1.0",
		Platform:     "web",
		Mode:         "ui",
		DeviceFamily: "browser",
	}
}

type ConnectAuth struct {
	Token string `json:"token"`
}

type ConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Role        string         `json:"role"`
	Client      ClientIdentity `json:"client"`
	Auth        ConnectAuth    `json:"auth"`
}

func (c *Client) connectParams() ConnectParams {
	return ConnectParams{
		MinProtocol: c.cfg.ProtocolVersion,
		MaxProtocol: c.cfg.ProtocolVersion,
		Role:        RoleOperator,
		Client:      c.cfg.Identity,
		Auth:        ConnectAuth{Token: c.cfg.Token},
	}
}

// handleChallenge answers the gateway's challenge with a connect request.
// Only the first challenge of a connection is answered.
func (c *Client) handleChallenge(conn *connection, ev *Event) {
	if !conn.challenged.CompareAndSwap(false, true) {
		c.logger.Warn("ignoring repeated connect challenge")
		return
	}

	params, err := json.Marshal(c.connectParams())
	if err != nil {
		conn.attempt.finish(&TransportError{Op: "handshake", Err: err})
		return
	}

	c.mu.Lock()
	if c.conn != conn || c.state != StateAwaitingChallenge {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("ignoring connect challenge", "state", state.String())
		return
	}

	c.setStateLocked(StateAuthenticating)

	p, err := c.pending.register(ConnectMethod, func(_ json.RawMessage, err error) {
		c.finishHandshake(conn, err)
	})
	c.mu.Unlock()

	if err != nil {
		c.finishHandshake(conn, err)
		return
	}

	c.logger.Debug("answering connect challenge",
		"id", p.id,
		"challenge", string(ev.Payload),
		"protocol", c.cfg.ProtocolVersion,
	)

	req := &Request{ID: p.id, Method: ConnectMethod, Params: params}
	if err := c.write(conn, req); err != nil {
		c.pending.reject(p.id, &TransportError{Op: "write", Err: err})
	}
}

// finishHandshake moves the connection to Connected or Closed and settles
// the connect attempt.
func (c *Client) finishHandshake(conn *connection, err error) {
	if err == nil {
		c.mu.Lock()
		current := c.conn == conn && c.state == StateAuthenticating && !conn.attempt.finished()
		if current {
			c.setStateLocked(StateConnected)
		}
		c.mu.Unlock()

		if !current {
			conn.attempt.finish(&TransportError{Op: "handshake", Err: ErrConnectionClosed})
			return
		}

		c.metrics.handshakeFinished("ok")
		conn.attempt.finish(nil)

		return
	}

	var remote *RemoteError

	switch {
	case errors.As(err, &remote):
		err = &AuthError{Message: remote.Message}
		c.metrics.handshakeFinished("rejected")
		c.logger.Error("gateway rejected connect request", "error", err)
	case errors.Is(err, ErrTransport):
		c.metrics.handshakeFinished("failed")
	default:
		err = &TransportError{Op: "handshake", Err: err}
		c.metrics.handshakeFinished("failed")
	}

	conn.attempt.finish(err)
	c.dropConnection(conn)
}
