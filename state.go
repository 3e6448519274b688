package blivedm

// ConnectionState is the lifecycle state of a client's connection.
type ConnectionState int

const (
	// StateIdle means the client has not been started.
	StateIdle ConnectionState = iota

	// StateConnecting means the client is bootstrapping or dialing a server.
	StateConnecting

	// StateAuthenticating means the socket is open and the auth reply is pending.
	StateAuthenticating

	// StateOpen means the client is authenticated and streaming.
	StateOpen

	// StateReconnecting means an attempt failed and the client is backing off.
	StateReconnecting

	// StateClosed means the run has ended, by Stop or by an unrecoverable error.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent describes one state transition.
type StateEvent struct {
	Old        ConnectionState
	New        ConnectionState
	RetryCount uint32
	Err        error // what caused the transition, if anything
}
