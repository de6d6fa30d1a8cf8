// ABOUTME: Capture pipeline from microphone to transport
// ABOUTME: Frames mono 16kHz audio and forwards it only while the talk gate is open
package voicecall

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/resample"
)

// CaptureConfig describes the microphone format
type CaptureConfig struct {
	DeviceRate int // native rate requested from the device
	Channels   int
	BlockSize  int // frames per block at DeviceRate
}

// CaptureStats counts frames since the pipeline was created
type CaptureStats struct {
	Captured  int64
	Forwarded int64
	Dropped   int64
}

// ErrCaptureStopped is returned by Start when Stop ran while the device was opening
var ErrCaptureStopped = errors.New("capture stopped while opening")

// CapturePipeline turns microphone blocks into encoded frames for the transport
type CapturePipeline struct {
	device capture.Device
	gate   *Gate
	cfg    CaptureConfig
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	opening   chan struct{} // closed once an in-flight Open has settled
	cancelled bool          // Stop ran during the in-flight Open
	sink      func(audio.Chunk)
	resampler *resample.Resampler

	captured  atomic.Int64
	forwarded atomic.Int64
	dropped   atomic.Int64
}

// NewCapturePipeline creates a pipeline reading the talk gate on every frame
func NewCapturePipeline(device capture.Device, gate *Gate, cfg CaptureConfig, logger *slog.Logger) *CapturePipeline {
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = audio.CaptureRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.BlockSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapturePipeline{
		device: device,
		gate:   gate,
		cfg:    cfg,
		logger: logger.With("component", "capture_pipeline"),
	}
}

// Start opens the microphone and begins producing frames for sink. It blocks
// for as long as the device takes to open, so callers run it off the
// controlling goroutine. On failure nothing stays acquired and the device
// error is returned; if Stop ran meanwhile the device is released here and
// ErrCaptureStopped is returned. Starting a running pipeline is a no-op.
func (p *CapturePipeline) Start(sink func(audio.Chunk)) error {
	p.mu.Lock()
	for p.opening != nil {
		settled := p.opening
		p.mu.Unlock()
		<-settled
		p.mu.Lock()
	}
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.cancelled = false
	p.sink = sink
	p.resampler = nil
	if p.cfg.DeviceRate != audio.CaptureRate {
		p.resampler = resample.New(p.cfg.DeviceRate, audio.CaptureRate, 1)
	}
	opening := make(chan struct{})
	p.opening = opening
	p.mu.Unlock()

	err := p.device.Open(capture.Config{
		SampleRate: p.cfg.DeviceRate,
		Channels:   p.cfg.Channels,
		BlockSize:  p.cfg.BlockSize,
	}, p.onBlock)

	p.mu.Lock()
	if err == nil && !p.cancelled {
		p.opening = nil
		close(opening)
		p.mu.Unlock()
		p.logger.Info("capture pipeline started", "device_rate", p.cfg.DeviceRate, "channels", p.cfg.Channels)
		return nil
	}
	p.running = false
	p.sink = nil
	p.mu.Unlock()

	// opening stays set until the device is released so Stop never closes it concurrently
	if cerr := p.device.Close(); cerr != nil {
		p.logger.Warn("capture release after aborted start", "error", cerr)
	}
	p.mu.Lock()
	p.opening = nil
	close(opening)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	p.logger.Info("capture released after stop during open")
	return ErrCaptureStopped
}

// onBlock handles one device block. The talk gate is sampled before any processing.
func (p *CapturePipeline) onBlock(block []float32) {
	talking := p.gate.Open()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.captured.Add(1)

	mono := audio.Downmix(block, p.cfg.Channels)
	if p.resampler != nil {
		mono = p.resampler.Resample([][]float32{mono})[0]
	}

	if !talking {
		p.dropped.Add(1)
		return
	}

	p.sink(encode.PCM(audio.Mono(mono, audio.CaptureRate)))
	p.forwarded.Add(1)
}

// Stop releases the microphone. Safe to call repeatedly and before Start.
// While Start is still opening the device Stop returns at once and Start
// releases it when the open settles.
func (p *CapturePipeline) Stop() error {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.sink = nil
	if p.opening != nil {
		p.cancelled = true
		p.mu.Unlock()
		p.logger.Debug("capture stop deferred until device open settles")
		return nil
	}
	p.mu.Unlock()

	// Close outside the lock; the device may wait for an in-flight callback
	if err := p.device.Close(); err != nil {
		return fmt.Errorf("failed to release capture device: %w", err)
	}
	if wasRunning {
		p.logger.Info("capture pipeline stopped")
	}
	return nil
}

// Running reports whether frames are being produced
func (p *CapturePipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns frame counters
func (p *CapturePipeline) Stats() CaptureStats {
	return CaptureStats{
		Captured:  p.captured.Load(),
		Forwarded: p.forwarded.Load(),
		Dropped:   p.dropped.Load(),
	}
}
