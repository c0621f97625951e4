package pipeline

import "time"

// Status represents the operating state of the caption pipeline.
type Status int

const (
	// StatusStarting is the initial state while the capture device and
	// inference engine are being brought up.
	StatusStarting Status = iota

	// StatusRunning is the normal operating state — frames are flowing and
	// windows are being transcribed.
	StatusRunning

	// StatusDegraded indicates a component has failed and automatic
	// recovery is in progress (device reconnect backoff, engine retry).
	StatusDegraded

	// StatusStopped is the terminal state. A stopped pipeline does not
	// restart; create a new Supervisor instead.
	StatusStopped
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusDegraded:
		return "degraded"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StatusChange describes a single pipeline state transition. Callbacks
// registered via [Supervisor.OnStatusChange] receive values of this type.
type StatusChange struct {
	// From and To are the states on either side of the transition.
	From Status
	To   Status

	// Reason is a short operator-facing explanation ("device disconnected",
	// "reconnected", ...). Empty for routine transitions.
	Reason string

	// At is when the transition happened.
	At time.Time
}
