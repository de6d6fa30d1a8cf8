// ABOUTME: Transport session boundary
// ABOUTME: Minimal interfaces the controller needs from a voice engine connection
package voicecall

import (
	"context"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
)

// Session is an open bidirectional session with a voice engine
type Session interface {
	// SendAudio queues an outbound chunk without blocking
	SendAudio(chunk audio.Chunk) error

	// Events delivers inbound events in arrival order and is closed after the last one
	Events() <-chan protocol.Event

	// Close ends the session. Safe to call repeatedly.
	Close() error
}

// Dialer opens sessions
type Dialer interface {
	Dial(ctx context.Context, credential string) (Session, error)
}

// DialFunc adapts a function to Dialer
type DialFunc func(ctx context.Context, credential string) (Session, error)

// Dial calls f
func (f DialFunc) Dial(ctx context.Context, credential string) (Session, error) {
	return f(ctx, credential)
}

var _ Session = (*protocol.Client)(nil)
