package wifi

import (
	"encoding/json"
	"time"
)

// State is the station connection state.
type State int32

const (
	StateIdle State = iota
	StateAssociating
	StateConnected
	StateDisconnected
	// StateFailed is terminal for a bounded reconnect policy that gave up.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssociating:
		return "associating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Transition describes one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`

	// IP is set on transitions into Connected.
	IP string `json:"ip,omitempty"`

	// Err is set when the manager gave up (ErrMaxRetries).
	Err error `json:"-"`
}

// Stats is a snapshot of manager counters.
type Stats struct {
	State              State  `json:"state"`
	IP                 string `json:"ip,omitempty"`
	ConnectAttempts    uint64 `json:"connect_attempts"`
	ConnectFailures    uint64 `json:"connect_failures"`
	Disconnects        uint64 `json:"disconnects"`
	ConsecutiveRetries int    `json:"consecutive_retries"`
	LastReason         string `json:"last_reason,omitempty"`
	DroppedTransitions uint64 `json:"dropped_transitions"`
}
