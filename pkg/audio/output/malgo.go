// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Renders the shared timeline from the miniaudio playback callback
package output

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	timeline *Timeline
	scratch  []float32
	logger   *slog.Logger
}

// NewMalgo creates a new Malgo output
func NewMalgo(logger *slog.Logger) *Malgo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Malgo{logger: logger.With("component", "output", "backend", "malgo")}
}

// Open initializes the output device with specified format
func (m *Malgo) Open(sampleRate, channels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("output already open")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	timeline := NewTimeline(sampleRate, channels)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, _ []byte, frameCount uint32) {
			m.dataCallback(timeline, channels, pOutputSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.malgoCtx = ctx
	m.device = device
	m.timeline = timeline

	m.logger.Info("audio output initialized", "sample_rate", sampleRate, "channels", channels)
	return nil
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(timeline *Timeline, channels int, out []byte, frameCount uint32) {
	samples := int(frameCount) * channels
	if len(out) < samples*4 {
		samples = len(out) / 4
	}
	if cap(m.scratch) < samples {
		m.scratch = make([]float32, samples)
	}
	buf := m.scratch[:samples]
	timeline.Render(buf)

	for i, s := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(clamp(s)))
	}
}

func (m *Malgo) current() *Timeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeline
}

// CurrentTime returns the rendered duration
func (m *Malgo) CurrentTime() time.Duration {
	if tl := m.current(); tl != nil {
		return tl.CurrentTime()
	}
	return 0
}

// Schedule places a frame on the timeline
func (m *Malgo) Schedule(frame audio.Frame, at time.Duration, onEnded func()) (Voice, error) {
	tl := m.current()
	if tl == nil {
		return nil, fmt.Errorf("output not initialized")
	}
	return tl.Schedule(frame, at, onEnded)
}

// SetGain changes the output gain at device time at
func (m *Malgo) SetGain(gain float64, at time.Duration) {
	if tl := m.current(); tl != nil {
		tl.SetGain(gain, at)
	}
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.logger.Warn("device stop error", "error", err)
		}
		m.device.Uninit()
		m.device = nil
	}
	if m.timeline != nil {
		m.timeline.Reset()
		m.timeline = nil
	}
	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			m.logger.Warn("malgo context uninit error", "error", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}
