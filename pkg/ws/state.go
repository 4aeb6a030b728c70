package ws

// State of a client's connection. Transitions only move forward on success;
// any transport error or close forces StateClosed, and the next Connect
// restarts at StateConnecting.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingChallenge
	StateAuthenticating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

