package database

// State is the health state of the supervised connection.
type State int32

const (
	// StateDisconnected means the transport reported the connection lost.
	StateDisconnected State = iota

	// StateConnecting covers dialing and the backoff wait before a redial.
	StateConnecting

	// StateVerifying means a connection is open and the liveness ping is running.
	StateVerifying

	// StateReady is the only state in which queries are dispatched.
	StateReady

	// StateFailed means the retry ceiling was reached. The manager stays here
	// until Reset is called.
	StateFailed
)

// String returns the lowercase state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateVerifying:
		return "verifying"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
