// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for clocked, schedulable playback backends
package output

import (
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
)

// Device represents an audio output with its own playback clock
type Device interface {
	// Open initializes the output device
	Open(sampleRate, channels int) error

	// CurrentTime returns the device clock: how much audio has been rendered
	CurrentTime() time.Duration

	// Schedule starts frame at device time at. onEnded runs once the last
	// sample has been rendered, unless the voice is stopped first.
	Schedule(frame audio.Frame, at time.Duration, onEnded func()) (Voice, error)

	// SetGain changes the output gain from device time at onwards
	SetGain(gain float64, at time.Duration)

	// Close releases output resources
	Close() error
}

// Voice is a scheduled frame on a Device
type Voice interface {
	// StartAt returns the device time the voice actually begins at, which
	// is later than requested when the clock had already passed it
	StartAt() time.Duration

	// Stop silences the voice immediately; onEnded will not run
	Stop()
}
