// ABOUTME: Session controller and call state machine
// ABOUTME: Serializes UI commands, transport events and device completions on one dispatcher
package voicecall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/output"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
	"github.com/google/uuid"
)

const workQueue = 256

// Config holds controller configuration
type Config struct {
	Dialer  Dialer
	Capture capture.Device
	Output  output.Device

	// CaptureConfig describes the microphone; zero values use 16kHz mono blocks of 4096
	CaptureConfig CaptureConfig

	// PlaybackRate is the output device rate (default 24kHz)
	PlaybackRate int

	Logger *slog.Logger

	// OnStateChange is called on the dispatcher after every status change
	OnStateChange func(Status)
}

// Stats contains call statistics
type Stats struct {
	Capture       CaptureStats
	ChunksIn      int64 // inbound audio chunks
	Malformed     int64 // inbound chunks dropped as undecodable
	Interruptions int64
	ActiveUnits   int
	SendErrors    int64 // outbound frames refused by the transport
}

// Controller owns the call state, the transport session and both audio paths
type Controller struct {
	cfg    Config
	logger *slog.Logger

	work chan func()
	done chan struct{}

	talk    Gate
	hold    Gate
	capture *CapturePipeline

	// Owned by the dispatcher
	state     CallState
	gen       uint64
	session   Session
	decoder   decode.Decoder
	scheduler *Scheduler
	cancelRun context.CancelFunc
	sessionID string
	lastErr   error

	mu       sync.RWMutex
	status   Status
	stats    Stats
	outbound Session // read by the capture thread
}

// NewController creates a controller in StateIdle. Call Run to start dispatching.
func NewController(cfg Config) *Controller {
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = audio.PlaybackRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With("component", "controller"),
		work:   make(chan func(), workQueue),
		done:   make(chan struct{}),
	}
	c.capture = NewCapturePipeline(cfg.Capture, &c.talk, cfg.CaptureConfig, logger)
	c.status = Status{State: StateIdle}
	return c
}

// Run dispatches work until ctx ends, then tears down any live call
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			if c.state.Live() {
				c.teardown()
				c.setState(StateEnded)
			}
			return nil
		case fn := <-c.work:
			fn()
		}
	}
}

// post queues fn for the dispatcher. It never runs fn inline.
func (c *Controller) post(fn func()) {
	select {
	case c.work <- fn:
	case <-c.done:
	}
}

// StartCall begins a call with credential. Allowed from idle, error and ended.
func (c *Controller) StartCall(credential string) {
	c.post(func() { c.startCall(credential) })
}

// EndCall ends the current call. A no-op when idle or already ended.
func (c *Controller) EndCall() {
	c.post(c.endCall)
}

// PressTalk opens the talk gate
func (c *Controller) PressTalk() {
	c.post(c.pressTalk)
}

// ReleaseTalk closes the talk gate
func (c *Controller) ReleaseTalk() {
	c.post(c.releaseTalk)
}

// ToggleHold mutes or unmutes playback without affecting scheduling
func (c *Controller) ToggleHold() {
	c.post(c.toggleHold)
}

// Status returns the latest status snapshot
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns the current call state
func (c *Controller) State() CallState {
	return c.Status().State
}

// Stats returns call statistics
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	stats := c.stats
	c.mu.RUnlock()
	stats.Capture = c.capture.Stats()
	return stats
}

// IsEnded reports whether the call is in StateEnded
func (c *Controller) IsEnded() bool {
	return c.State() == StateEnded
}

func (c *Controller) startCall(credential string) {
	switch c.state {
	case StateIdle, StateError, StateEnded:
	default:
		c.logger.Debug("start ignored", "state", c.state)
		return
	}

	c.gen++
	gen := c.gen
	c.lastErr = nil
	c.sessionID = uuid.New().String()
	c.talk.Set(false)

	if credential == "" {
		c.fail(ErrCredentialMissing)
		return
	}

	c.setState(StateConnecting)
	c.logger.Info("starting call", "session_id", c.sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	go func() {
		sess, err := c.cfg.Dialer.Dial(ctx, credential)
		c.post(func() { c.onDialed(gen, sess, err) })
	}()
}

func (c *Controller) onDialed(gen uint64, sess Session, err error) {
	if gen != c.gen || c.state != StateConnecting {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrConnect, err))
		return
	}

	decoder, err := decode.NewPCM(c.cfg.PlaybackRate, 1)
	if err != nil {
		_ = sess.Close()
		c.fail(err)
		return
	}
	c.decoder = decoder

	c.session = sess
	c.mu.Lock()
	c.outbound = sess
	c.mu.Unlock()

	c.scheduler = NewScheduler(c.cfg.Output, SchedulerConfig{
		SampleRate: c.cfg.PlaybackRate,
		Channels:   1,
		Dispatch: func(fn func()) {
			c.post(func() {
				if gen == c.gen {
					fn()
					c.refreshActive()
				}
			})
		},
		IsEnded:   c.isEnded,
		OnDrained: c.onDrained,
	}, c.logger)
	c.scheduler.SetMuted(c.hold.Open())

	c.setState(StateConnected)
	go c.pump(gen, sess.Events())

	if err := c.scheduler.Open(); err != nil {
		c.fail(err)
		return
	}

	go func() {
		err := c.capture.Start(c.send)
		c.post(func() { c.onCaptureStarted(gen, err) })
	}()
}

func (c *Controller) onCaptureStarted(gen uint64, err error) {
	if gen == c.gen && c.state.Live() {
		if err != nil {
			c.fail(err)
		}
		return
	}
	if errors.Is(err, ErrCaptureStopped) {
		c.logger.Debug("microphone released after the call ended")
		return
	}
	if err == nil && !c.state.Live() {
		// The microphone opened after teardown had already released it
		if serr := c.capture.Stop(); serr != nil {
			c.logger.Warn("late capture release failed", "error", serr)
		}
	}
}

// send forwards a captured frame to the live session; runs on the capture thread
func (c *Controller) send(chunk audio.Chunk) {
	c.mu.RLock()
	sess := c.outbound
	c.mu.RUnlock()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(chunk); err != nil {
		c.mu.Lock()
		c.stats.SendErrors++
		c.mu.Unlock()
		c.logger.Debug("outbound frame dropped", "error", err)
	}
}

// pump forwards transport events to the dispatcher in arrival order
func (c *Controller) pump(gen uint64, events <-chan protocol.Event) {
	for ev := range events {
		c.post(func() { c.handleEvent(gen, ev) })
		if ev.Terminal() {
			return
		}
	}
	c.post(func() { c.handleEvent(gen, protocol.Event{Type: protocol.EventClosed}) })
}

func (c *Controller) handleEvent(gen uint64, ev protocol.Event) {
	if gen != c.gen || !c.state.Live() {
		return
	}

	switch ev.Type {
	case protocol.EventAudio:
		c.onAudio(ev.Chunk)
	case protocol.EventInterrupted:
		c.scheduler.CancelAll()
		c.updateStats(func(s *Stats) { s.Interruptions++ })
		c.logger.Debug("playback interrupted")
		// Cancelled units never complete, so the drain check runs here
		c.revertIfDrained()
	case protocol.EventTurnComplete:
		c.revertIfDrained()
	case protocol.EventError:
		c.logger.Error("voice engine error", "error", ev.Err, "session_id", c.sessionID)
		c.fail(fmt.Errorf("%w: %w", ErrTransport, ev.Err))
	case protocol.EventClosed:
		c.logger.Info("voice engine closed the call", "session_id", c.sessionID)
		c.lastErr = ErrTransportClosed
		c.teardown()
		c.setState(StateEnded)
	}
}

// onAudio decodes on the dispatcher so enqueue order matches arrival order
func (c *Controller) onAudio(chunk audio.Chunk) {
	c.updateStats(func(s *Stats) { s.ChunksIn++ })

	frame, err := c.decoder.Decode(chunk)
	if err != nil {
		c.updateStats(func(s *Stats) { s.Malformed++ })
		c.logger.Warn("dropping inbound chunk", "error", err, "mime_type", chunk.MIMEType)
		return
	}
	if frame.Len() == 0 {
		return
	}

	if _, err := c.scheduler.Enqueue(frame); err != nil {
		c.logger.Warn("dropping inbound frame", "error", err)
		return
	}
	if c.state == StateConnected {
		c.setState(StateSpeaking)
	} else {
		c.publish()
	}
}

// onDrained runs when the last unit finishes naturally
func (c *Controller) onDrained() {
	c.revertIfDrained()
}

// revertIfDrained moves speaking back to connected once nothing is playing
func (c *Controller) revertIfDrained() {
	if c.state == StateSpeaking && c.scheduler != nil && c.scheduler.Active() == 0 && !c.isEnded() {
		c.setState(StateConnected)
		return
	}
	c.publish()
}

func (c *Controller) isEnded() bool {
	return c.state == StateEnded
}

func (c *Controller) endCall() {
	if c.state == StateIdle || c.state == StateEnded {
		return
	}
	c.logger.Info("ending call", "session_id", c.sessionID)
	c.gen++
	c.lastErr = nil
	c.teardown()
	c.setState(StateEnded)
}

func (c *Controller) pressTalk() {
	switch c.state {
	case StateConnected, StateSpeaking:
		c.talk.Set(true)
		c.setState(StateListening)
	}
}

func (c *Controller) releaseTalk() {
	if c.state != StateListening {
		return
	}
	c.talk.Set(false)
	if c.scheduler != nil && c.scheduler.Active() > 0 {
		c.setState(StateSpeaking)
		return
	}
	c.setState(StateConnected)
}

func (c *Controller) toggleHold() {
	held := c.hold.Toggle()
	if c.scheduler != nil {
		c.scheduler.SetMuted(held)
	}
	c.logger.Debug("hold toggled", "held", held)
	c.publish()
}

// fail tears the call down and enters StateError
func (c *Controller) fail(err error) {
	c.logger.Error("call failed", "error", err, "session_id", c.sessionID)
	c.gen++
	c.lastErr = err
	c.teardown()
	c.setState(StateError)
}

// teardown releases transport, capture and playback independently
func (c *Controller) teardown() {
	c.talk.Set(false)
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}

	c.mu.Lock()
	c.outbound = nil
	c.mu.Unlock()

	var errs []error
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		c.session = nil
	}
	if c.decoder != nil {
		_ = c.decoder.Close()
		c.decoder = nil
	}
	if err := c.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	if c.scheduler != nil {
		if err := c.scheduler.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close playback: %w", err))
		}
		c.scheduler = nil
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("teardown incomplete", "error", err, "session_id", c.sessionID)
	}
}

func (c *Controller) setState(state CallState) {
	if c.state != state {
		c.logger.Info("call state changed", "from", c.state, "to", state, "session_id", c.sessionID)
	}
	c.state = state
	c.publish()
}

// publish refreshes the status snapshot and notifies the observer
func (c *Controller) publish() {
	status := Status{
		State:     c.state,
		SessionID: c.sessionID,
		Talking:   c.talk.Open(),
		Held:      c.hold.Open(),
	}
	if c.state == StateError || c.state == StateEnded {
		status.Err = c.lastErr
		status.Text = StatusText(c.lastErr)
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.refreshActive()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(status)
	}
}

// refreshActive copies the active unit count into the stats snapshot
func (c *Controller) refreshActive() {
	active := 0
	if c.scheduler != nil {
		active = c.scheduler.Active()
	}
	c.updateStats(func(s *Stats) { s.ActiveUnits = active })
}

func (c *Controller) updateStats(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
