// ABOUTME: Tests for PCM decoder
// ABOUTME: Tests decoding, malformed input, resampling and encode round trips
package decode

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/encode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkOf(rate int, samples ...int16) audio.Chunk {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return audio.Chunk{
		MIMEType: audio.MIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}

func TestNewPCM(t *testing.T) {
	_, err := NewPCM(0, 1)
	assert.Error(t, err)

	_, err = NewPCM(audio.PlaybackRate, 0)
	assert.Error(t, err)

	decoder, err := NewPCM(audio.PlaybackRate, 1)
	require.NoError(t, err)
	assert.NoError(t, decoder.Close())
}

func TestPCMDecodeMono(t *testing.T) {
	frame, err := PCM(chunkOf(24000, 0, 16384, -16384, -32768, 32767), audio.PlaybackRate, 1)
	require.NoError(t, err)

	assert.Equal(t, audio.PlaybackRate, frame.SampleRate)
	require.Equal(t, 1, frame.NumChannels())
	assert.Equal(t, []float32{0, 0.5, -0.5, -1, 32767.0 / 32768.0}, frame.Channels[0])
}

func TestPCMDecodeDeinterleaves(t *testing.T) {
	frame, err := PCM(chunkOf(24000, 8192, -8192, 16384, -16384), audio.PlaybackRate, 2)
	require.NoError(t, err)

	require.Equal(t, 2, frame.NumChannels())
	assert.Equal(t, []float32{0.25, 0.5}, frame.Channels[0])
	assert.Equal(t, []float32{-0.25, -0.5}, frame.Channels[1])
}

func TestPCMMalformed(t *testing.T) {
	tests := []struct {
		name     string
		chunk    audio.Chunk
		channels int
	}{
		{
			name:     "odd byte count",
			chunk:    audio.Chunk{MIMEType: audio.MIMEType(24000), Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
			channels: 1,
		},
		{
			name:     "not a multiple of the stereo frame size",
			chunk:    chunkOf(24000, 1, 2, 3),
			channels: 2,
		},
		{
			name:     "invalid base64",
			chunk:    audio.Chunk{MIMEType: audio.MIMEType(24000), Data: "!!not-base64!!"},
			channels: 1,
		},
		{
			name:     "zero channels",
			chunk:    chunkOf(24000, 1),
			channels: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PCM(tt.chunk, audio.PlaybackRate, tt.channels)
			assert.ErrorIs(t, err, ErrMalformedChunk)
		})
	}
}

func TestPCMDecodeEmpty(t *testing.T) {
	frame, err := PCM(audio.Chunk{MIMEType: audio.MIMEType(16000)}, audio.PlaybackRate, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Len())
	assert.Equal(t, audio.PlaybackRate, frame.SampleRate)
}

func TestPCMDecodeResamplesToTarget(t *testing.T) {
	samples := make([]int16, 1600) // 100ms at 16kHz
	frame, err := PCM(chunkOf(16000, samples...), audio.PlaybackRate, 1)
	require.NoError(t, err)

	assert.Equal(t, audio.PlaybackRate, frame.SampleRate)
	assert.InDelta(t, 2400, frame.Len(), 2)
}

func TestDecoderStreamsAcrossChunks(t *testing.T) {
	ramp := make([]int16, 3200)
	for i := range ramp {
		ramp[i] = int16(i * 8)
	}

	whole, err := NewPCM(audio.PlaybackRate, 1)
	require.NoError(t, err)
	want, err := whole.Decode(chunkOf(16000, ramp...))
	require.NoError(t, err)

	split, err := NewPCM(audio.PlaybackRate, 1)
	require.NoError(t, err)
	var got []float32
	for _, part := range [][]int16{ramp[:1600], ramp[1600:2001], ramp[2001:]} {
		frame, err := split.Decode(chunkOf(16000, part...))
		require.NoError(t, err)
		got = append(got, frame.Channels[0]...)
	}

	require.Len(t, got, want.Len())
	for i := range got {
		assert.InDelta(t, want.Channels[0][i], got[i], 1e-4, "sample %d", i)
	}
}

func TestDecoderCloseResetsStream(t *testing.T) {
	d, err := NewPCM(audio.PlaybackRate, 1)
	require.NoError(t, err)

	first, err := d.Decode(chunkOf(16000, make([]int16, 1600)...))
	require.NoError(t, err)
	require.NoError(t, d.Close())
	again, err := d.Decode(chunkOf(16000, make([]int16, 1600)...))
	require.NoError(t, err)
	assert.Equal(t, first.Len(), again.Len())
}

func TestPCMDecodeUntaggedAssumesTarget(t *testing.T) {
	chunk := chunkOf(16000, 1, 2, 3, 4)
	chunk.MIMEType = "audio/pcm"

	frame, err := PCM(chunk, audio.PlaybackRate, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Len())
}

func TestRoundTripIsIdempotent(t *testing.T) {
	samples := make([]float32, 512)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.05))
	}
	samples[0] = 1.0
	samples[1] = -1.0

	first := encode.PCM(audio.Mono(samples, audio.CaptureRate))

	decoded, err := PCM(first, audio.CaptureRate, 1)
	require.NoError(t, err)
	second := encode.PCM(decoded)
	assert.Equal(t, first, second, "re-encoding a decoded frame must reproduce the same bytes")

	for i := range samples {
		assert.InDelta(t, samples[i], decoded.Channels[0][i], 1.0/32768.0+1e-6)
	}
}
