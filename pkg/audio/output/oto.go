// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams the shared timeline through a persistent oto player
package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// Oto output implementation using oto library
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	timeline   *Timeline
	sampleRate int
	channels   int
	logger     *slog.Logger
}

// NewOto creates a new Oto output
func NewOto(logger *slog.Logger) *Oto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oto{logger: logger.With("component", "output", "backend", "oto")}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		return fmt.Errorf("output already open")
	}

	// oto allows one context per process, so a reopen reuses it
	if o.otoCtx != nil {
		if o.sampleRate != sampleRate || o.channels != channels {
			return fmt.Errorf("oto context is %dHz/%dch and cannot be reinitialized for %dHz/%dch",
				o.sampleRate, o.channels, sampleRate, channels)
		}
		if err := o.otoCtx.Resume(); err != nil {
			return fmt.Errorf("failed to resume oto context: %w", err)
		}
	} else {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   40 * time.Millisecond,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.sampleRate = sampleRate
		o.channels = channels
	}

	o.timeline = NewTimeline(sampleRate, channels)

	// Persistent player pulling from the timeline; it never reaches EOF
	o.player = o.otoCtx.NewPlayer(o.timeline)
	o.player.Play()

	o.logger.Info("audio output initialized", "sample_rate", sampleRate, "channels", channels)
	return nil
}

func (o *Oto) current() *Timeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeline
}

// CurrentTime returns the rendered duration
func (o *Oto) CurrentTime() time.Duration {
	if tl := o.current(); tl != nil {
		return tl.CurrentTime()
	}
	return 0
}

// Schedule places a frame on the timeline
func (o *Oto) Schedule(frame audio.Frame, at time.Duration, onEnded func()) (Voice, error) {
	tl := o.current()
	if tl == nil {
		return nil, fmt.Errorf("output not initialized")
	}
	return tl.Schedule(frame, at, onEnded)
}

// SetGain changes the output gain at device time at
func (o *Oto) SetGain(gain float64, at time.Duration) {
	if tl := o.current(); tl != nil {
		tl.SetGain(gain, at)
	}
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	if o.timeline != nil {
		o.timeline.Reset()
	}
	if o.player != nil {
		o.player.Pause()
		if cerr := o.player.Close(); cerr != nil {
			err = fmt.Errorf("failed to close oto player: %w", cerr)
		}
		o.player = nil
	}
	if o.otoCtx != nil {
		if serr := o.otoCtx.Suspend(); serr != nil && err == nil {
			err = fmt.Errorf("failed to suspend oto context: %w", serr)
		}
	}
	o.timeline = nil
	return err
}
