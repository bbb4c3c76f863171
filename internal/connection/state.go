package connection

import "fmt"

// State is the lifecycle of a relay connection.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	// Reconnecting is never held by a Handle. Sessions report it while
	// waiting to open a replacement handle.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
