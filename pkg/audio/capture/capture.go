// ABOUTME: Capture device interface definition
// ABOUTME: Common interface and errors for microphone backends
package capture

import "errors"

var (
	// ErrPermissionDenied means the platform refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means no usable capture device exists
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Config describes the requested capture format
type Config struct {
	SampleRate int
	Channels   int
	BlockSize  int // frames per delivered block
}

// Device represents a microphone
type Device interface {
	// Open requests access and starts delivering interleaved blocks of exactly
	// BlockSize frames to onBlock until Close. A failed Open releases
	// everything it acquired.
	Open(cfg Config, onBlock func(block []float32)) error

	// Close stops delivery and releases the device. Safe to call repeatedly.
	Close() error
}

// blocker re-frames arbitrarily sized callback buffers into fixed blocks
type blocker struct {
	buf    []float32
	size   int
	onFull func([]float32)
}

func newBlocker(frames, channels int, onFull func([]float32)) *blocker {
	size := frames * channels
	return &blocker{
		buf:    make([]float32, 0, size),
		size:   size,
		onFull: onFull,
	}
}

// write appends samples and emits every completed block.
// Emitted blocks are fresh slices owned by the receiver.
func (b *blocker) write(samples []float32) {
	for len(samples) > 0 {
		n := b.size - len(b.buf)
		if n > len(samples) {
			n = len(samples)
		}
		b.buf = append(b.buf, samples[:n]...)
		samples = samples[n:]

		if len(b.buf) == b.size {
			block := b.buf
			b.buf = make([]float32, 0, b.size)
			b.onFull(block)
		}
	}
}

func (b *blocker) reset() {
	b.buf = b.buf[:0]
}
