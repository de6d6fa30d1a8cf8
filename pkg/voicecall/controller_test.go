// ABOUTME: Tests for the session controller
// ABOUTME: Drives the call state machine through fake transport and devices
package voicecall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl    *Controller
	dialer  *fakeDialer
	mic     *fakeMic
	speaker *fakeSpeaker

	mu     sync.Mutex
	states []CallState
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer:  &fakeDialer{},
		mic:     &fakeMic{},
		speaker: &fakeSpeaker{},
	}
	h.ctrl = NewController(Config{
		Dialer:  h.dialer,
		Capture: h.mic,
		Output:  h.speaker,
		OnStateChange: func(s Status) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if n := len(h.states); n == 0 || h.states[n-1] != s.State {
				h.states = append(h.states, s.State)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(t *testing.T, want CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want }, waitFor, tick,
		"want state %s, have %s", want, h.ctrl.State())
}

func (h *harness) history() []CallState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CallState(nil), h.states...)
}

// connect starts a call and waits until the microphone is open
func (h *harness) connect(t *testing.T) *fakeSession {
	t.Helper()
	h.ctrl.StartCall("key")
	h.waitState(t, StateConnected)
	require.Eventually(t, h.mic.isOpen, waitFor, tick)
	settle(t, h.ctrl)
	sess := h.dialer.last()
	require.NotNil(t, sess)
	return sess
}

// deliver pushes an event and waits until the dispatcher has handled it
func (h *harness) deliver(t *testing.T, sess *fakeSession, ev protocol.Event, until func() bool) {
	t.Helper()
	sess.push(ev)
	require.Eventually(t, until, waitFor, tick)
}

func TestCallScenario(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)
	assert.Equal(t, 1, h.dialer.dials())
	assert.True(t, h.speaker.isOpen())

	// Closed gate: frames are captured but never sent
	h.mic.emit(tone(0.1, audio.BlockSize))
	assert.Equal(t, 0, sess.sentCount())

	h.ctrl.PressTalk()
	h.waitState(t, StateListening)
	assert.True(t, h.ctrl.Status().Talking)
	h.mic.emit(tone(0.1, audio.BlockSize))
	h.mic.emit(tone(0.1, audio.BlockSize))
	assert.Equal(t, 2, sess.sentCount())

	h.ctrl.ReleaseTalk()
	h.waitState(t, StateConnected)
	h.mic.emit(tone(0.1, audio.BlockSize))
	assert.Equal(t, 2, sess.sentCount(), "no frames after release")

	// Inbound audio starts playback at the device's current time
	h.speaker.render(480)
	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	settle(t, h.ctrl)
	assert.Equal(t, 1, h.ctrl.Stats().ActiveUnits)
	assert.Equal(t, 1, h.speaker.current().Active())

	// Barge-in clears playback immediately
	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.Stats().ActiveUnits == 2
	})
	h.deliver(t, sess, protocol.Event{Type: protocol.EventInterrupted}, func() bool {
		stats := h.ctrl.Stats()
		return stats.Interruptions == 1 && stats.ActiveUnits == 0
	})
	assert.Equal(t, 0, h.speaker.current().Active())
	h.waitState(t, StateConnected)

	// Fresh audio after the interruption plays to completion, then the call reverts
	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(240)}, func() bool {
		return h.ctrl.Stats().ActiveUnits == 1
	})
	assert.Equal(t, StateSpeaking, h.ctrl.State())
	h.speaker.render(240)
	h.waitState(t, StateConnected)
	assert.Equal(t, 0, h.ctrl.Stats().ActiveUnits)

	h.ctrl.EndCall()
	h.waitState(t, StateEnded)
	assert.True(t, sess.closed())
	assert.False(t, h.mic.isOpen())
	assert.False(t, h.speaker.isOpen())
	assert.Empty(t, h.ctrl.Status().Text)

	// Idempotent
	h.ctrl.EndCall()
	settle(t, h.ctrl)
	assert.Equal(t, StateEnded, h.ctrl.State())
	assert.Equal(t, 1, h.speaker.closes)

	assert.Equal(t, []CallState{
		StateConnecting, StateConnected, StateListening, StateConnected,
		StateSpeaking, StateConnected, StateSpeaking, StateConnected, StateEnded,
	}, h.history())
}

func TestEndCallFromIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.ctrl.EndCall()
	settle(t, h.ctrl)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.history())
	assert.Equal(t, 0, h.mic.closeCount())
}

func TestMissingCredential(t *testing.T) {
	h := newHarness(t)
	h.ctrl.StartCall("")
	h.waitState(t, StateError)

	status := h.ctrl.Status()
	assert.ErrorIs(t, status.Err, ErrCredentialMissing)
	assert.Equal(t, "credential missing", status.Text)
	assert.Equal(t, 0, h.dialer.dials())
	assert.False(t, h.speaker.isOpen())
	assert.Equal(t, []CallState{StateError}, h.history())
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("no route to host")

	h.ctrl.StartCall("key")
	h.waitState(t, StateError)

	status := h.ctrl.Status()
	assert.ErrorIs(t, status.Err, ErrConnect)
	assert.Equal(t, "connection failed", status.Text)
	assert.Equal(t, 0, h.speaker.opens)
	assert.Equal(t, 0, h.mic.opens)

	// No automatic retry
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dials())
}

func TestMicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	h.mic.openErr = ErrPermissionDenied

	h.ctrl.StartCall("key")
	h.waitState(t, StateError)

	status := h.ctrl.Status()
	assert.ErrorIs(t, status.Err, ErrPermissionDenied)
	assert.Equal(t, "microphone permission denied", status.Text)
	assert.True(t, h.dialer.last().closed())
	assert.False(t, h.speaker.isOpen())
	assert.False(t, h.mic.isOpen())
}

func TestOutputUnavailable(t *testing.T) {
	h := newHarness(t)
	h.speaker.openErr = errors.New("no output device")

	h.ctrl.StartCall("key")
	h.waitState(t, StateError)

	assert.Equal(t, "audio device unavailable", h.ctrl.Status().Text)
	assert.True(t, h.dialer.last().closed())
	assert.Equal(t, 0, h.mic.opens)
}

func TestTransportErrorTearsDown(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	sess.push(protocol.Event{Type: protocol.EventError, Err: protocol.ErrAbnormalClose})
	h.waitState(t, StateError)

	status := h.ctrl.Status()
	assert.ErrorIs(t, status.Err, ErrTransport)
	assert.ErrorIs(t, status.Err, protocol.ErrAbnormalClose)
	assert.Equal(t, "voice engine error", status.Text)
	assert.True(t, sess.closed())
	assert.False(t, h.mic.isOpen())
	assert.False(t, h.speaker.isOpen())
	assert.Equal(t, 1, h.dialer.dials())
}

func TestTransportCloseEndsCall(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	sess.push(protocol.Event{Type: protocol.EventClosed})
	h.waitState(t, StateEnded)
	assert.Equal(t, "call closed by voice engine", h.ctrl.Status().Text)
	assert.False(t, h.mic.isOpen())
}

func TestEventStreamEndingEndsCall(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	close(sess.events)
	h.waitState(t, StateEnded)
}

func TestNothingChangesAfterEnded(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.ctrl.EndCall()
	h.waitState(t, StateEnded)
	before := h.history()

	for _, ev := range []protocol.Event{
		{Type: protocol.EventAudio, Chunk: speech(240)},
		{Type: protocol.EventInterrupted},
		{Type: protocol.EventTurnComplete},
		{Type: protocol.EventError, Err: errors.New("late")},
	} {
		sess.push(ev)
	}
	h.ctrl.PressTalk()
	h.ctrl.ReleaseTalk()
	h.ctrl.ToggleHold()
	time.Sleep(20 * time.Millisecond)
	settle(t, h.ctrl)

	assert.Equal(t, StateEnded, h.ctrl.State())
	assert.Equal(t, before, h.history())
	assert.Equal(t, int64(0), h.ctrl.Stats().ChunksIn)
}

func TestMalformedChunkIsDropped(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: audio.Chunk{MIMEType: "audio/pcm;rate=24000", Data: "AAA"}}, func() bool {
		return h.ctrl.Stats().Malformed == 1
	})
	assert.Equal(t, StateConnected, h.ctrl.State())

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(240)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	assert.Equal(t, int64(2), h.ctrl.Stats().ChunksIn)
}

func TestTurnCompleteWaitsForPlayback(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(240)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	sess.push(protocol.Event{Type: protocol.EventTurnComplete})
	time.Sleep(20 * time.Millisecond)
	settle(t, h.ctrl)
	assert.Equal(t, StateSpeaking, h.ctrl.State())

	h.speaker.render(240)
	h.waitState(t, StateConnected)
}

func TestTurnCompleteAfterInterruption(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(24000)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	sess.push(protocol.Event{Type: protocol.EventInterrupted})
	sess.push(protocol.Event{Type: protocol.EventTurnComplete})
	h.waitState(t, StateConnected)
}

func TestInterruptionRevertsWithoutTurnComplete(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	sess.push(protocol.Event{Type: protocol.EventInterrupted})
	h.waitState(t, StateConnected)
	assert.Equal(t, 0, h.ctrl.Stats().ActiveUnits)

	// Nothing left to play keeps the call connected
	h.speaker.render(48000)
	settle(t, h.ctrl)
	assert.Equal(t, StateConnected, h.ctrl.State())
}

func TestInterruptionWhileListeningKeepsTurn(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	h.ctrl.PressTalk()
	h.waitState(t, StateListening)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventInterrupted}, func() bool {
		return h.ctrl.Stats().Interruptions == 1
	})
	assert.Equal(t, StateListening, h.ctrl.State())

	h.ctrl.ReleaseTalk()
	h.waitState(t, StateConnected)
}

func TestActiveUnitsFollowCompletions(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(240)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})
	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(240)}, func() bool {
		return h.ctrl.Stats().ActiveUnits == 2
	})

	// The first unit finishing leaves the set non-empty
	h.speaker.render(240)
	require.Eventually(t, func() bool { return h.ctrl.Stats().ActiveUnits == 1 }, waitFor, tick)
	assert.Equal(t, StateSpeaking, h.ctrl.State())

	h.speaker.render(240)
	h.waitState(t, StateConnected)
	assert.Equal(t, 0, h.ctrl.Stats().ActiveUnits)
}

func TestTalkDuringPlayback(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})

	h.ctrl.PressTalk()
	h.waitState(t, StateListening)

	// Audio while listening keeps the user's turn
	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.Stats().ActiveUnits == 2
	})
	assert.Equal(t, StateListening, h.ctrl.State())

	h.ctrl.ReleaseTalk()
	h.waitState(t, StateSpeaking)

	h.speaker.render(4800)
	h.waitState(t, StateConnected)
}

func TestHoldMutesWithoutStoppingPlayback(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)

	h.deliver(t, sess, protocol.Event{Type: protocol.EventAudio, Chunk: speech(2400)}, func() bool {
		return h.ctrl.State() == StateSpeaking
	})

	h.ctrl.ToggleHold()
	require.Eventually(t, func() bool { return h.ctrl.Status().Held }, waitFor, tick)
	h.speaker.render(10)
	assert.Equal(t, 0.0, h.speaker.gain())
	assert.Equal(t, 1, h.ctrl.Stats().ActiveUnits)
	assert.Equal(t, StateSpeaking, h.ctrl.State())

	h.ctrl.ToggleHold()
	require.Eventually(t, func() bool { return !h.ctrl.Status().Held }, waitFor, tick)
	h.speaker.render(10)
	assert.Equal(t, 1.0, h.speaker.gain())

	h.speaker.render(2400)
	h.waitState(t, StateConnected)
}

func TestHoldCarriesIntoNextCall(t *testing.T) {
	h := newHarness(t)
	h.ctrl.ToggleHold()
	h.connect(t)

	h.speaker.render(1)
	assert.Equal(t, 0.0, h.speaker.gain())
	assert.True(t, h.ctrl.Status().Held)
}

func TestStartIgnoredWhileLive(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.ctrl.StartCall("other")
	settle(t, h.ctrl)
	assert.Equal(t, StateConnected, h.ctrl.State())
	assert.Equal(t, 1, h.dialer.dials())
}

func TestEndWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = make(chan struct{})

	h.ctrl.StartCall("key")
	h.waitState(t, StateConnecting)

	h.ctrl.EndCall()
	h.waitState(t, StateEnded)

	// The aborted dial never opens devices
	time.Sleep(20 * time.Millisecond)
	settle(t, h.ctrl)
	assert.Equal(t, StateEnded, h.ctrl.State())
	assert.Equal(t, 0, h.speaker.opens)
}

func TestEndWhileMicrophoneOpening(t *testing.T) {
	h := newHarness(t)
	waiting, release := h.mic.holdOpen()

	h.ctrl.StartCall("key")
	h.waitState(t, StateConnected)
	<-waiting

	// The dispatcher keeps serving while the device open is pending
	h.ctrl.EndCall()
	h.waitState(t, StateEnded)
	settle(t, h.ctrl)
	assert.True(t, h.dialer.last().closed())
	assert.False(t, h.speaker.isOpen())

	release()
	require.Eventually(t, func() bool { return h.mic.closeCount() == 1 }, waitFor, tick)
	assert.False(t, h.mic.isOpen())

	settle(t, h.ctrl)
	assert.Equal(t, StateEnded, h.ctrl.State())
	assert.Empty(t, h.ctrl.Status().Text)
}

func TestRestartAfterEnded(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)
	firstID := h.ctrl.Status().SessionID

	h.ctrl.EndCall()
	h.waitState(t, StateEnded)

	second := h.connect(t)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, firstID, h.ctrl.Status().SessionID)
	assert.True(t, h.speaker.isOpen())

	// The old session is dead to the controller
	first.push(protocol.Event{Type: protocol.EventClosed})
	time.Sleep(20 * time.Millisecond)
	settle(t, h.ctrl)
	assert.Equal(t, StateConnected, h.ctrl.State())
}

func TestRestartAfterError(t *testing.T) {
	h := newHarness(t)
	h.ctrl.StartCall("")
	h.waitState(t, StateError)

	h.connect(t)
	assert.Empty(t, h.ctrl.Status().Text)
}

func TestRunCancelTearsDown(t *testing.T) {
	dialer := &fakeDialer{}
	mic := &fakeMic{}
	speaker := &fakeSpeaker{}
	ctrl := NewController(Config{Dialer: dialer, Capture: mic, Output: speaker})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	ctrl.StartCall("key")
	require.Eventually(t, mic.isOpen, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateEnded, ctrl.State())
	assert.True(t, dialer.last().closed())
	assert.False(t, mic.isOpen())
	assert.False(t, speaker.isOpen())

	// Commands after shutdown do not block
	ctrl.EndCall()
}

func TestSendErrorsCounted(t *testing.T) {
	h := newHarness(t)
	sess := h.connect(t)
	h.ctrl.PressTalk()
	h.waitState(t, StateListening)

	require.NoError(t, sess.Close())
	h.mic.emit(tone(0.1, audio.BlockSize))
	assert.Equal(t, int64(1), h.ctrl.Stats().SendErrors)
	assert.Equal(t, int64(1), h.ctrl.Stats().Capture.Forwarded)
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrCredentialMissing, "credential missing"},
		{ErrPermissionDenied, "microphone permission denied"},
		{ErrDeviceUnavailable, "audio device unavailable"},
		{ErrConnect, "connection failed"},
		{ErrMalformedChunk, "malformed audio chunk"},
		{ErrTransport, "voice engine error"},
		{ErrTransportClosed, "call closed by voice engine"},
		{errors.New("something else"), "unexpected error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusText(tt.err))
	}
}

func TestCallStateString(t *testing.T) {
	assert.Equal(t, "speaking", StateSpeaking.String())
	assert.Equal(t, "state(42)", CallState(42).String())
	assert.True(t, StateConnecting.Live())
	assert.False(t, StateError.Live())
}
