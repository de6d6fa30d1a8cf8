// ABOUTME: Inbound session events
// ABOUTME: Flattens engine frames into an ordered stream of typed events
package protocol

import (
	"fmt"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
)

// EventType identifies an inbound event
type EventType int

const (
	// EventAudio carries one synthesized audio chunk
	EventAudio EventType = iota + 1
	// EventInterrupted means the engine cut off its current response
	EventInterrupted
	// EventTurnComplete means the engine finished its response
	EventTurnComplete
	// EventError is terminal: the engine or connection failed
	EventError
	// EventClosed is terminal: the engine closed the session normally
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one inbound message
type Event struct {
	Type  EventType
	Chunk audio.Chunk // EventAudio only
	Err   error       // EventError only
}

// Terminal reports whether no events follow this one
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventClosed
}

// eventsFor expands a server frame into events: audio parts first, then
// interrupted, then turn complete
func eventsFor(msg *ServerContent) []Event {
	var events []Event
	if msg.ModelTurn != nil {
		for _, part := range msg.ModelTurn.Parts {
			if part.InlineData == nil {
				continue
			}
			events = append(events, Event{
				Type:  EventAudio,
				Chunk: audio.Chunk{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data},
			})
		}
	}
	if msg.Interrupted {
		events = append(events, Event{Type: EventInterrupted})
	}
	if msg.TurnComplete {
		events = append(events, Event{Type: EventTurnComplete})
	}
	return events
}
