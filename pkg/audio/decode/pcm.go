// ABOUTME: PCM audio decoder
// ABOUTME: Decodes base64 16-bit PCM chunks to planar float frames
package decode

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/resample"
)

// ErrMalformedChunk reports a chunk that cannot be decoded as 16-bit PCM
var ErrMalformedChunk = errors.New("malformed audio chunk")

// PCMDecoder decodes a stream of chunks to a fixed target format. Resampling
// state carries across chunks of the same source rate.
type PCMDecoder struct {
	targetRate int
	channels   int
	resampler  *resample.Resampler
}

// NewPCM creates a new PCM decoder
func NewPCM(targetRate, channels int) (Decoder, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target rate: %d", targetRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	return &PCMDecoder{
		targetRate: targetRate,
		channels:   channels,
	}, nil
}

// Decode converts the next chunk of the stream to a frame
func (d *PCMDecoder) Decode(chunk audio.Chunk) (audio.Frame, error) {
	planar, err := unpack(chunk, d.channels)
	if err != nil {
		return audio.Frame{}, err
	}

	sourceRate, ok := audio.ParseRate(chunk.MIMEType)
	if !ok || sourceRate == d.targetRate || len(planar[0]) == 0 {
		return audio.Frame{SampleRate: d.targetRate, Channels: planar}, nil
	}

	if d.resampler == nil || d.resampler.InputRate() != sourceRate {
		d.resampler = resample.New(sourceRate, d.targetRate, d.channels)
	}
	return audio.Frame{SampleRate: d.targetRate, Channels: d.resampler.Resample(planar)}, nil
}

// Close drops resampling state
func (d *PCMDecoder) Close() error {
	d.resampler = nil
	return nil
}

// PCM base64-decodes a single chunk, reads 16-bit little-endian samples,
// de-interleaves them by channel count and resamples to targetRate when the
// chunk's tagged rate differs. Chunks without a rate tag are taken to be at
// targetRate already. Use a PCMDecoder for a continuous stream.
func PCM(chunk audio.Chunk, targetRate, channels int) (audio.Frame, error) {
	planar, err := unpack(chunk, channels)
	if err != nil {
		return audio.Frame{}, err
	}

	sourceRate, ok := audio.ParseRate(chunk.MIMEType)
	if !ok || sourceRate == targetRate || len(planar[0]) == 0 {
		return audio.Frame{SampleRate: targetRate, Channels: planar}, nil
	}

	r := resample.New(sourceRate, targetRate, channels)
	return audio.Frame{SampleRate: targetRate, Channels: r.Resample(planar)}, nil
}

// unpack decodes a chunk into planar samples at its own rate
func unpack(chunk audio.Chunk, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrMalformedChunk, channels)
	}

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}

	if len(raw)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d",
			ErrMalformedChunk, len(raw), 2*channels)
	}

	frames := len(raw) / (2 * channels)
	planar := make([][]float32, channels)
	for ch := range planar {
		planar[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			sample := int16(binary.LittleEndian.Uint16(raw[(i*channels+ch)*2:]))
			planar[ch][i] = audio.SampleFromInt16(sample)
		}
	}
	return planar, nil
}
