// ABOUTME: Malgo-based microphone capture
// ABOUTME: Uses miniaudio via malgo to deliver fixed-size float blocks
package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Malgo captures from the default input device using malgo/miniaudio
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	blocks   *blocker
	channels int
	logger   *slog.Logger
}

// NewMalgo creates a new Malgo capture device
func NewMalgo(logger *slog.Logger) *Malgo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Malgo{logger: logger.With("component", "capture")}
}

// Open initializes and starts the capture device
func (m *Malgo) Open(cfg Config, onBlock func(block []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("%w: capture device already open", ErrDeviceUnavailable)
	}
	if cfg.SampleRate <= 0 || cfg.Channels < 1 || cfg.BlockSize < 1 {
		return fmt.Errorf("%w: invalid capture config: %dHz %dch block=%d",
			ErrDeviceUnavailable, cfg.SampleRate, cfg.Channels, cfg.BlockSize)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}
	m.malgoCtx = ctx
	m.channels = cfg.Channels
	m.blocks = newBlocker(cfg.BlockSize, cfg.Channels, onBlock)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, frameCount uint32) {
			m.dataCallback(pInputSamples, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		m.releaseContext()
		return classify("init capture device", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		m.releaseContext()
		return classify("start capture device", err)
	}

	m.device = device
	m.logger.Info("capture started", "sample_rate", cfg.SampleRate, "channels", cfg.Channels, "block", cfg.BlockSize)
	return nil
}

// dataCallback converts miniaudio's f32 bytes and feeds the blocker
func (m *Malgo) dataCallback(input []byte, frameCount uint32) {
	n := int(frameCount) * m.channels
	if len(input) < n*4 {
		n = len(input) / 4
	}

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	m.blocks.write(samples)
}

// Close stops the device and frees miniaudio resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.logger.Warn("capture device stop error", "error", err)
		}
		m.device.Uninit()
		m.device = nil
		m.logger.Info("capture stopped")
	}
	m.releaseContext()
	if m.blocks != nil {
		m.blocks.reset()
	}
	return nil
}

// releaseContext frees the malgo context (must hold m.mu)
func (m *Malgo) releaseContext() {
	if m.malgoCtx == nil {
		return
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		m.logger.Warn("malgo context uninit error", "error", err)
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
}

// classify maps a miniaudio failure onto the capture error taxonomy.
// miniaudio reports backend permission failures as access-denied results.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, op, err)
}
