// ABOUTME: Tests for audio types
// ABOUTME: Tests sample conversion, MIME tags and frame helpers
package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampleToInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    float32
		expected int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"max", 1.0, 32767},
		{"min", -1.0, -32768},
		{"truncates toward zero", 0.00005, 1},
		{"negative truncates toward zero", -0.00005, -1},
		{"beyond max", 1.5, 32767},
		{"beyond min", -1.5, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SampleToInt16(tt.input))
		})
	}
}

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected float32
	}{
		{"zero", 0, 0},
		{"half", 16384, 0.5},
		{"min", -32768, -1.0},
		{"max", 32767, 32767.0 / 32768.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SampleFromInt16(tt.input))
		})
	}
}

func TestSampleRoundTripIsStable(t *testing.T) {
	for _, v := range []int16{-32768, -12345, -1, 0, 1, 777, 32767} {
		assert.Equal(t, v, SampleToInt16(SampleFromInt16(v)), "value %d", v)
	}
}

func TestMIMEType(t *testing.T) {
	assert.Equal(t, "audio/pcm;rate=16000", MIMEType(CaptureRate))
	assert.Equal(t, "audio/pcm;rate=24000", MIMEType(PlaybackRate))
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		mime string
		rate int
		ok   bool
	}{
		{"audio/pcm;rate=16000", 16000, true},
		{"audio/pcm; rate=24000", 24000, true},
		{"audio/pcm;channels=1;RATE=48000", 48000, true},
		{"audio/pcm", 0, false},
		{"audio/pcm;rate=abc", 0, false},
		{"audio/pcm;rate=-5", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			rate, ok := ParseRate(tt.mime)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.rate, rate)
		})
	}
}

func TestFrameDuration(t *testing.T) {
	frame := Mono(make([]float32, 2400), PlaybackRate)
	assert.Equal(t, 1, frame.NumChannels())
	assert.Equal(t, 2400, frame.Len())
	assert.Equal(t, 100*time.Millisecond, frame.Duration())

	assert.Equal(t, 0, Frame{}.Len())
	assert.Equal(t, time.Duration(0), Frame{}.Duration())
}

func TestDurationFrameConversion(t *testing.T) {
	assert.Equal(t, int64(24000), DurationToFrames(time.Second, PlaybackRate))
	assert.Equal(t, int64(4096), DurationToFrames(FramesToDuration(4096, CaptureRate), CaptureRate))

	// Chained chunk durations stay frame-exact at rates that don't divide a second evenly
	var at time.Duration
	for i := 1; i <= 100; i++ {
		at += FramesToDuration(4096, PlaybackRate)
		assert.Equal(t, int64(i*4096), DurationToFrames(at, PlaybackRate))
	}
}

func TestDownmix(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	assert.Equal(t, []float32{0.5, 0.5, 0}, Downmix(stereo, 2))

	mono := []float32{0.1, 0.2}
	out := Downmix(mono, 1)
	assert.Equal(t, mono, out)
	out[0] = 9
	assert.Equal(t, float32(0.1), mono[0], "mono downmix must copy")
}
