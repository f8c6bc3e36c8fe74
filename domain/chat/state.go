package chat

// State is the lifecycle stage of a session gateway connection.
// Transitions only move forward; any stage may jump to Closed.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReplayingHistory
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReplayingHistory:
		return "replaying_history"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText makes structured logs and JSON carry the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
