// ABOUTME: PCM audio encoder
// ABOUTME: Encodes float frames to base64 16-bit little-endian PCM chunks
package encode

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
)

// PCMEncoder encodes frames of a fixed format to PCM chunks
type PCMEncoder struct {
	sampleRate int
	channels   int
}

// NewPCM creates a new PCM encoder for frames of the given rate and channel count
func NewPCM(sampleRate, channels int) (Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	return &PCMEncoder{
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Encode converts a frame to a PCM chunk
func (e *PCMEncoder) Encode(frame audio.Frame) (audio.Chunk, error) {
	if frame.SampleRate != e.sampleRate || frame.NumChannels() != e.channels {
		return audio.Chunk{}, fmt.Errorf("frame format %dHz/%dch does not match encoder %dHz/%dch",
			frame.SampleRate, frame.NumChannels(), e.sampleRate, e.channels)
	}
	return PCM(frame), nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}

// PCM interleaves the frame's channels, converts each sample to 16-bit
// little-endian and base64 encodes the result.
func PCM(frame audio.Frame) audio.Chunk {
	channels := frame.NumChannels()
	frames := frame.Len()

	raw := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			sample := audio.SampleToInt16(frame.Channels[ch][i])
			binary.LittleEndian.PutUint16(raw[(i*channels+ch)*2:], uint16(sample))
		}
	}

	return audio.Chunk{
		MIMEType: audio.MIMEType(frame.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}
