package call

// Status is the lifecycle state of the voice call.
//
//	Idle ──StartCall──▶ Connecting ──opened──▶ Connected
//	                        │                      │
//	                        └──fail──▶ Ended ◀──end/close/error
//	                                     │
//	                                     └──StartCall──▶ Connecting
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusEnded
)

// String returns the lower-case state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Label returns the text shown to the user for s.
func (s Status) Label() string {
	switch s {
	case StatusIdle:
		return "Ready to Call"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected - Live"
	case StatusEnded:
		return "Call Ended"
	default:
		return ""
	}
}

// Active reports whether a call is being set up or is in progress.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}
