// ABOUTME: Test doubles for the voicecall package
// ABOUTME: In-memory microphone, timeline-backed output, and scripted transport
package voicecall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/output"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
)

// fakeMic is a capture.Device driven by the test
type fakeMic struct {
	mu      sync.Mutex
	openErr error
	cfg     capture.Config
	onBlock func([]float32)
	opens   int
	closes  int

	// When hold is set Open keeps the device lock until hold is closed,
	// like a platform permission prompt. holding closes once Open waits.
	hold    chan struct{}
	holding chan struct{}
}

// holdOpen makes the next Open wait for the returned release func
func (m *fakeMic) holdOpen() (waiting <-chan struct{}, release func()) {
	m.hold = make(chan struct{})
	m.holding = make(chan struct{})
	return m.holding, func() { close(m.hold) }
}

func (m *fakeMic) Open(cfg capture.Config, onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.hold != nil {
		close(m.holding)
		<-m.hold
		m.hold = nil
	}
	if m.openErr != nil {
		return m.openErr
	}
	m.cfg = cfg
	m.onBlock = onBlock
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.onBlock = nil
	return nil
}

func (m *fakeMic) isOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onBlock != nil
}

func (m *fakeMic) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// emit delivers one block as the device thread would
func (m *fakeMic) emit(block []float32) {
	m.mu.Lock()
	fn := m.onBlock
	m.mu.Unlock()
	if fn != nil {
		fn(block)
	}
}

// fakeSpeaker is an output.Device whose clock advances only when the test renders
type fakeSpeaker struct {
	mu       sync.Mutex
	openErr  error
	timeline *output.Timeline
	opens    int
	closes   int
}

func (s *fakeSpeaker) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	s.timeline = output.NewTimeline(sampleRate, channels)
	return nil
}

func (s *fakeSpeaker) current() *output.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

func (s *fakeSpeaker) CurrentTime() time.Duration {
	if tl := s.current(); tl != nil {
		return tl.CurrentTime()
	}
	return 0
}

func (s *fakeSpeaker) Schedule(frame audio.Frame, at time.Duration, onEnded func()) (output.Voice, error) {
	tl := s.current()
	if tl == nil {
		return nil, errors.New("not open")
	}
	return tl.Schedule(frame, at, onEnded)
}

func (s *fakeSpeaker) SetGain(gain float64, at time.Duration) {
	if tl := s.current(); tl != nil {
		tl.SetGain(gain, at)
	}
}

func (s *fakeSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.timeline != nil {
		s.timeline.Reset()
		s.timeline = nil
	}
	return nil
}

func (s *fakeSpeaker) isOpen() bool {
	return s.current() != nil
}

// render advances the device clock, firing completions
func (s *fakeSpeaker) render(frames int) {
	if tl := s.current(); tl != nil {
		tl.Render(make([]float32, frames*tl.Channels()))
	}
}

func (s *fakeSpeaker) gain() float64 {
	if tl := s.current(); tl != nil {
		return tl.Gain()
	}
	return 1
}

// fakeSession is a scripted transport session
type fakeSession struct {
	events chan protocol.Event

	mu     sync.Mutex
	sent   []audio.Chunk
	closes int
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan protocol.Event, 64)}
}

func (s *fakeSession) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return protocol.ErrNotConnected
	}
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeSession) Events() <-chan protocol.Event {
	return s.events
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

func (s *fakeSession) push(ev protocol.Event) {
	s.events <- ev
}

// fakeDialer hands out sessions in order, or fails
type fakeDialer struct {
	mu       sync.Mutex
	err      error
	block    chan struct{} // when set, Dial waits for it or ctx
	sessions []*fakeSession
	creds    []string
}

func (d *fakeDialer) Dial(ctx context.Context, credential string) (Session, error) {
	d.mu.Lock()
	d.creds = append(d.creds, credential)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	sess := newFakeSession()
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.creds)
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// tone returns n samples of a constant value
func tone(value float32, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

// speech encodes n frames of inbound audio at the playback rate
func speech(n int) audio.Chunk {
	return encode.PCM(audio.Mono(tone(0.25, n), audio.PlaybackRate))
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// settle waits until the dispatcher has processed everything posted so far
func settle(t *testing.T, c *Controller) {
	t.Helper()
	done := make(chan struct{})
	c.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("dispatcher did not settle")
	}
}
