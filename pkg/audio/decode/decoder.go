// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for decoders turning wire chunks into playable frames
package decode

import "github.com/Resonate-Protocol/voicecall-go/pkg/audio"

// Decoder decodes wire chunks to playable frames
type Decoder interface {
	// Decode converts an encoded chunk to a frame at the decoder's target rate
	Decode(chunk audio.Chunk) (audio.Frame, error)

	// Close releases decoder resources
	Close() error
}
