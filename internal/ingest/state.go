package ingest

// ConnState is the pipeline's broker connection state.
//
//	Disconnected ──▶ Connecting ──▶ Subscribed
//	     ▲                │              │
//	     └────────────────┴──────────────┘   (failure or lost connection)
//
// Stopped is terminal and reached from any state when Run's context ends.
type ConnState int32

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribed
	StateStopped
)

// String returns the lower-case state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
