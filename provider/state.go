package provider

// State is the lifecycle position of a named provider.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRetrying
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRetrying:
		return "retrying"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
