// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for audio encoders producing wire chunks
package encode

import "github.com/Resonate-Protocol/voicecall-go/pkg/audio"

// Encoder encodes frames into wire chunks
type Encoder interface {
	// Encode converts a frame to an encoded chunk
	Encode(frame audio.Frame) (audio.Chunk, error)

	// Close releases encoder resources
	Close() error
}
