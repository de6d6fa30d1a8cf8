// ABOUTME: Audio type definitions
// ABOUTME: Defines frames, encoded chunks and float/int16 sample conversions
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureRate is the sample rate sent to the voice engine
	CaptureRate = 16000

	// PlaybackRate is the sample rate the voice engine speaks at
	PlaybackRate = 24000

	// BlockSize is the number of frames per captured block
	BlockSize = 4096

	// pcmMIMEPrefix tags raw 16-bit little-endian PCM
	pcmMIMEPrefix = "audio/pcm"
)

// Frame is a block of planar float32 samples in [-1.0, 1.0].
// A Frame must not be modified once it has been handed to another component.
type Frame struct {
	SampleRate int
	Channels   [][]float32
}

// Mono wraps a single channel of samples as a Frame
func Mono(samples []float32, sampleRate int) Frame {
	return Frame{
		SampleRate: sampleRate,
		Channels:   [][]float32{samples},
	}
}

// NumChannels returns the channel count
func (f Frame) NumChannels() int {
	return len(f.Channels)
}

// Len returns the number of sample frames (samples per channel)
func (f Frame) Len() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.Channels[0])
}

// Duration returns the playback duration of the frame
func (f Frame) Duration() time.Duration {
	return FramesToDuration(int64(f.Len()), f.SampleRate)
}

// Chunk is the wire form of a Frame: base64 of 16-bit LE PCM plus a MIME tag
type Chunk struct {
	MIMEType string
	Data     string
}

// MIMEType returns the PCM MIME tag for a sample rate, e.g. "audio/pcm;rate=16000"
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMIMEPrefix, sampleRate)
}

// ParseRate extracts the rate parameter from a PCM MIME tag
func ParseRate(mimeType string) (int, bool) {
	parts := strings.Split(mimeType, ";")
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

// FramesToDuration converts a frame count at a sample rate to a duration, rounded to the nearest nanosecond
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	rate := int64(sampleRate)
	return time.Duration((frames*int64(time.Second) + rate/2) / rate)
}

// DurationToFrames converts a duration to a frame count at a sample rate, rounded to the nearest frame.
// Converting a frame count to a duration and back is exact.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	return (int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// SampleToInt16 converts a float sample to int16.
// The sample is scaled by 32768 and truncated toward zero; +1.0 clamps to 32767.
func SampleToInt16(sample float32) int16 {
	scaled := sample * 32768
	if scaled >= 32767 {
		return 32767
	}
	if scaled <= -32768 {
		return -32768
	}
	return int16(scaled)
}

// SampleFromInt16 converts an int16 sample to a float in [-1.0, 1.0)
func SampleFromInt16(sample int16) float32 {
	return float32(sample) / 32768.0
}

// Downmix averages interleaved samples down to a single channel
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
