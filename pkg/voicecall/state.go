// ABOUTME: Call state definitions
// ABOUTME: CallState enum and the status snapshot exposed to the UI
package voicecall

import "fmt"

// CallState is the lifecycle state of a call
type CallState int

const (
	StateIdle CallState = iota
	StateConnecting
	StateConnected
	StateListening
	StateSpeaking
	StateError
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether a transport session may be open in this state
func (s CallState) Live() bool {
	switch s {
	case StateConnecting, StateConnected, StateListening, StateSpeaking:
		return true
	}
	return false
}

// Status is a snapshot of the call for display
type Status struct {
	State     CallState
	SessionID string
	Talking   bool
	Held      bool
	Err       error  // set in StateError
	Text      string // stable description of Err
}
