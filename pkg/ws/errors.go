package ws

import (
	"errors"
	"fmt"
)

// UnknownErrorMessage is used when a failed response carries no error message.
const UnknownErrorMessage = "Unknown error"

var (
	ErrTransport            = errors.New("transport error")
	ErrProtocol             = errors.New("protocol error")
	ErrAuth                 = errors.New("authentication failed")
	ErrRemote               = errors.New("remote error")
	ErrUnknownResponse      = errors.New("response for unknown request")
	ErrUnsupportedFrame     = errors.New("unsupported frame shape")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrRequestTimeout       = errors.New("request timeout")
	ErrRequestCanceled      = errors.New("request canceled")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
)

// TransportError fails an in-flight connect attempt: dial, read, write or
// handshake deadline.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op + " failed"
	}

	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError describes a frame that could not be decoded. It is never
// returned to callers of Request, only logged.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}

	return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// AuthError is returned from Connect when the gateway rejects the connect
// request. Error returns the server-supplied message verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// RemoteError is a response with ok=false for an ordinary request.
// Error returns the server-supplied message verbatim.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

func remoteErrorFrom(method string, body *ErrorBody) *RemoteError {
	msg := UnknownErrorMessage
	if body != nil && body.Message != "" {
		msg = body.Message
	}

	return &RemoteError{Method: method, Message: msg}
}
