// ABOUTME: Sample-accurate mixer shared by the playback backends
// ABOUTME: Renders scheduled voices against a frame-counting device clock
package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
)

// Timeline mixes scheduled voices. Its clock is the number of frames rendered.
type Timeline struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	position   int64 // frames rendered so far
	gain       float32
	gainEvents []gainEvent // sorted by frame
	voices     []*voice
	scratch    []float32
}

type gainEvent struct {
	frame int64
	gain  float32
}

type voice struct {
	timeline *Timeline
	start    int64
	samples  [][]float32
	length   int64
	stopped  bool
	onEnded  func()
}

// NewTimeline creates a timeline for the given output format
func NewTimeline(sampleRate, channels int) *Timeline {
	return &Timeline{
		sampleRate: sampleRate,
		channels:   channels,
		gain:       1,
	}
}

// SampleRate returns the rendering rate
func (t *Timeline) SampleRate() int {
	return t.sampleRate
}

// Channels returns the rendered channel count
func (t *Timeline) Channels() int {
	return t.channels
}

// CurrentTime returns the duration of audio rendered so far
func (t *Timeline) CurrentTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.FramesToDuration(t.position, t.sampleRate)
}

// Schedule places frame on the timeline starting at device time at.
// Start times in the past are clamped to the current position.
func (t *Timeline) Schedule(frame audio.Frame, at time.Duration, onEnded func()) (Voice, error) {
	if frame.SampleRate != t.sampleRate {
		return nil, fmt.Errorf("frame rate %dHz does not match output rate %dHz", frame.SampleRate, t.sampleRate)
	}
	if frame.NumChannels() == 0 {
		return nil, fmt.Errorf("frame has no channels")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	start := audio.DurationToFrames(at, t.sampleRate)
	if start < t.position {
		start = t.position
	}

	v := &voice{
		timeline: t,
		start:    start,
		samples:  frame.Channels,
		length:   int64(frame.Len()),
		onEnded:  onEnded,
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// SetGain queues a gain change at device time at; past times apply on the next render
func (t *Timeline) SetGain(gain float64, at time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame := audio.DurationToFrames(at, t.sampleRate)
	if frame < t.position {
		frame = t.position
	}
	t.gainEvents = append(t.gainEvents, gainEvent{frame: frame, gain: float32(gain)})
	sort.SliceStable(t.gainEvents, func(i, j int) bool {
		return t.gainEvents[i].frame < t.gainEvents[j].frame
	})
}

// Gain returns the gain currently applied to rendered output
func (t *Timeline) Gain() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.gain)
}

// Active returns the number of voices not yet finished or stopped
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Render fills out with interleaved samples and advances the clock.
// len(out) must be a multiple of the channel count.
func (t *Timeline) Render(out []float32) {
	var ended []func()

	t.mu.Lock()
	frames := int64(len(out) / t.channels)
	for i := range out {
		out[i] = 0
	}

	for _, v := range t.voices {
		t.mixVoice(v, out, frames)
	}
	t.applyGain(out, frames)
	t.position += frames

	// Drop finished voices and collect their completions
	kept := t.voices[:0]
	for _, v := range t.voices {
		if v.start+v.length <= t.position {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// mixVoice adds the overlap of v with the render window (must hold t.mu)
func (t *Timeline) mixVoice(v *voice, out []float32, frames int64) {
	from := v.start - t.position
	if from >= frames {
		return
	}
	offset := int64(0)
	if from < 0 {
		offset = -from
		from = 0
	}

	channels := len(v.samples)
	for i := from; i < frames && offset < v.length; i++ {
		for ch := 0; ch < t.channels; ch++ {
			src := ch
			if src >= channels {
				src = channels - 1
			}
			out[i*int64(t.channels)+int64(ch)] += v.samples[src][offset]
		}
		offset++
	}
}

// applyGain scales the window, switching gain at queued event frames (must hold t.mu)
func (t *Timeline) applyGain(out []float32, frames int64) {
	for i := int64(0); i < frames; i++ {
		for len(t.gainEvents) > 0 && t.gainEvents[0].frame <= t.position+i {
			t.gain = t.gainEvents[0].gain
			t.gainEvents = t.gainEvents[1:]
		}
		if t.gain == 1 {
			continue
		}
		for ch := 0; ch < t.channels; ch++ {
			out[i*int64(t.channels)+int64(ch)] *= t.gain
		}
	}
}

// Read renders float32 little-endian bytes, for pull-based backends
func (t *Timeline) Read(p []byte) (int, error) {
	frameBytes := 4 * t.channels
	n := (len(p) / frameBytes) * frameBytes
	if n == 0 {
		return 0, nil
	}

	samples := n / 4
	if cap(t.scratch) < samples {
		t.scratch = make([]float32, samples)
	}
	buf := t.scratch[:samples]
	t.Render(buf)

	for i, s := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(clamp(s)))
	}
	return n, nil
}

// Reset stops every voice without completions and clears pending gain changes
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, v := range t.voices {
		v.stopped = true
	}
	t.voices = nil
	t.gainEvents = nil
	t.gain = 1
}

// StartAt returns the clamped start time
func (v *voice) StartAt() time.Duration {
	return audio.FramesToDuration(v.start, v.timeline.sampleRate)
}

// Stop removes the voice from its timeline
func (v *voice) Stop() {
	t := v.timeline
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.stopped {
		return
	}
	v.stopped = true
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			break
		}
	}
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
