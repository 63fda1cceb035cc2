package session

// State is the lifecycle state of a session.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateReady
	StateInvoking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateInvoking:
		return "INVOKING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
