package recorder

import (
	"fmt"
	"time"
)

// State is where a recording is in its life
type State string

const (
	StateCreated   State = "created"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateSaved     State = "saved"
	StateDiscarded State = "discarded"
	StateFailed    State = "failed"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[State]map[State]bool{
	StateCreated: {
		StateRecording: true, // ffmpeg spawned
		StateStopped:   true, // never started, nothing to stop
		StateFailed:    true, // ffmpeg could not be spawned
	},
	StateRecording: {
		StateStopped: true,
		StateFailed:  true, // ffmpeg died or could not be stopped
	},
	StateStopped: {
		StateSaved:     true,
		StateDiscarded: true,
		StateFailed:    true, // moving the file failed
	},
	// Terminal states
	StateSaved:     {},
	StateDiscarded: {},
	StateFailed: {
		StateDiscarded: true, // leftover temp file can still be removed
	},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further work happens in s
func (s State) IsTerminal() bool {
	return s == StateSaved || s == StateDiscarded
}

// Event records a state change
type Event struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
	Message   string    `json:"message,omitempty"`
}
