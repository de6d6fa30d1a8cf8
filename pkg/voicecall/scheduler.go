// ABOUTME: Gapless playback scheduler
// ABOUTME: Places decoded frames back to back on the output clock and cancels them on barge-in
package voicecall

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/output"
)

// ErrSchedulerClosed is returned by Enqueue after Close or before Open
var ErrSchedulerClosed = errors.New("playback scheduler closed")

// PlaybackUnit is one frame scheduled on the output device
type PlaybackUnit struct {
	StartAt  time.Duration
	Duration time.Duration
	voice    output.Voice
}

// SchedulerConfig wires a scheduler to its owner
type SchedulerConfig struct {
	SampleRate int
	Channels   int

	// Dispatch runs fn on the owner's event goroutine. Unit completions
	// arrive on the device thread and are marshalled through it.
	Dispatch func(fn func())

	// IsEnded reports whether the call has ended
	IsEnded func() bool

	// OnDrained runs on the event goroutine when the last active unit
	// finishes naturally and the call has not ended
	OnDrained func()
}

// Scheduler owns the output device, its gain, the playback cursor and the
// set of active units. All methods except the device callbacks must be
// called from one goroutine.
type Scheduler struct {
	device output.Device
	cfg    SchedulerConfig
	logger *slog.Logger

	cursor time.Duration
	active map[*PlaybackUnit]struct{}
	muted  bool
	open   bool
	closed bool
}

// NewScheduler creates a scheduler for device
func NewScheduler(device output.Device, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.PlaybackRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) { fn() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		device: device,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		active: make(map[*PlaybackUnit]struct{}),
	}
}

// Open acquires the output device and resets the cursor to its clock
func (s *Scheduler) Open() error {
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.open {
		return nil
	}
	if err := s.device.Open(s.cfg.SampleRate, s.cfg.Channels); err != nil {
		if cerr := s.device.Close(); cerr != nil {
			s.logger.Warn("output release after failed open", "error", cerr)
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.open = true
	s.cursor = s.device.CurrentTime()
	if s.muted {
		s.device.SetGain(0, s.cursor)
	}
	return nil
}

// Enqueue schedules frame at max(cursor, now) and advances the cursor by its duration
func (s *Scheduler) Enqueue(frame audio.Frame) (*PlaybackUnit, error) {
	if !s.open || s.closed {
		return nil, ErrSchedulerClosed
	}

	startAt := s.cursor
	if now := s.device.CurrentTime(); now > startAt {
		startAt = now
	}

	unit := &PlaybackUnit{Duration: frame.Duration()}
	voice, err := s.device.Schedule(frame, startAt, func() {
		s.cfg.Dispatch(func() { s.finish(unit) })
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule playback: %w", err)
	}
	unit.voice = voice

	// The render thread may have moved past startAt since CurrentTime was read
	if actual := voice.StartAt(); s.frameOf(actual) != s.frameOf(startAt) {
		startAt = actual
	}
	unit.StartAt = startAt
	s.active[unit] = struct{}{}
	s.cursor = unit.StartAt + unit.Duration
	return unit, nil
}

func (s *Scheduler) frameOf(d time.Duration) int64 {
	return audio.DurationToFrames(d, s.cfg.SampleRate)
}

// finish removes a naturally completed unit
func (s *Scheduler) finish(unit *PlaybackUnit) {
	if _, ok := s.active[unit]; !ok {
		return // cancelled first
	}
	delete(s.active, unit)

	if len(s.active) == 0 && s.cfg.OnDrained != nil && !s.ended() {
		s.cfg.OnDrained()
	}
}

func (s *Scheduler) ended() bool {
	return s.closed || (s.cfg.IsEnded != nil && s.cfg.IsEnded())
}

// CancelAll stops every active unit and resets the cursor to now
func (s *Scheduler) CancelAll() {
	for unit := range s.active {
		unit.voice.Stop()
		delete(s.active, unit)
	}
	if s.open {
		s.cursor = s.device.CurrentTime()
	}
}

// SetMuted switches the output gain at the device's current time
func (s *Scheduler) SetMuted(muted bool) {
	s.muted = muted
	if !s.open {
		return
	}
	gain := 1.0
	if muted {
		gain = 0
	}
	s.device.SetGain(gain, s.device.CurrentTime())
}

// Close cancels all units and releases the output device. Safe to call repeatedly.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}
	s.CancelAll()
	s.closed = true
	if !s.open {
		return nil
	}
	s.open = false
	if err := s.device.Close(); err != nil {
		return fmt.Errorf("failed to release output device: %w", err)
	}
	return nil
}

// Active returns the number of units scheduled but not finished
func (s *Scheduler) Active() int {
	return len(s.active)
}

// Cursor returns the next start time
func (s *Scheduler) Cursor() time.Duration {
	return s.cursor
}

// Muted reports the hold state applied to the output
func (s *Scheduler) Muted() bool {
	return s.muted
}
