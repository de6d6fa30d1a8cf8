// ABOUTME: Call metrics recorded through the OpenTelemetry metrics API
// ABOUTME: Counts call outcomes, times setup and mirrors controller frame counters
package observe

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/voicecall"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Resonate-Protocol/voicecall-go"

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 1800}

// StatsSource supplies cumulative call counters
type StatsSource interface {
	Stats() voicecall.Stats
}

// Metrics holds the call instruments
type Metrics struct {
	meter metric.Meter

	// Calls counts finished calls by outcome (ended or error)
	Calls metric.Int64Counter

	// SetupDuration is connecting to connected, in seconds
	SetupDuration metric.Float64Histogram

	// CallDuration is connected to ended or error, in seconds
	CallDuration metric.Float64Histogram

	captureFrames metric.Int64ObservableCounter
	inChunks      metric.Int64ObservableCounter
	interruptions metric.Int64ObservableCounter
	sendErrors    metric.Int64ObservableCounter
	activeUnits   metric.Int64ObservableGauge
}

// NewMetrics creates the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: mp.Meter(meterName)}
	var err error

	if m.Calls, err = m.meter.Int64Counter("voicecall.calls",
		metric.WithDescription("Finished calls by outcome."),
	); err != nil {
		return nil, err
	}
	if m.SetupDuration, err = m.meter.Float64Histogram("voicecall.setup.duration",
		metric.WithDescription("Time from dialing to a ready session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.CallDuration, err = m.meter.Float64Histogram("voicecall.call.duration",
		metric.WithDescription("Connected time per call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	if m.captureFrames, err = m.meter.Int64ObservableCounter("voicecall.capture.frames",
		metric.WithDescription("Captured microphone frames by result (forwarded or dropped)."),
	); err != nil {
		return nil, err
	}
	if m.inChunks, err = m.meter.Int64ObservableCounter("voicecall.inbound.chunks",
		metric.WithDescription("Inbound audio chunks by result (scheduled or malformed)."),
	); err != nil {
		return nil, err
	}
	if m.interruptions, err = m.meter.Int64ObservableCounter("voicecall.interruptions",
		metric.WithDescription("Engine interruptions that cancelled playback."),
	); err != nil {
		return nil, err
	}
	if m.sendErrors, err = m.meter.Int64ObservableCounter("voicecall.send.errors",
		metric.WithDescription("Outbound frames refused by the transport."),
	); err != nil {
		return nil, err
	}
	if m.activeUnits, err = m.meter.Int64ObservableGauge("voicecall.playback.active_units",
		metric.WithDescription("Scheduled playback units not yet finished."),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Observe reports src's counters on every collection until the registration is removed
func (m *Metrics) Observe(src StatsSource) (metric.Registration, error) {
	forwarded := metric.WithAttributes(attribute.String("result", "forwarded"))
	dropped := metric.WithAttributes(attribute.String("result", "dropped"))
	scheduled := metric.WithAttributes(attribute.String("result", "scheduled"))
	malformed := metric.WithAttributes(attribute.String("result", "malformed"))

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := src.Stats()
		o.ObserveInt64(m.captureFrames, s.Capture.Forwarded, forwarded)
		o.ObserveInt64(m.captureFrames, s.Capture.Dropped, dropped)
		o.ObserveInt64(m.inChunks, s.ChunksIn-s.Malformed, scheduled)
		o.ObserveInt64(m.inChunks, s.Malformed, malformed)
		o.ObserveInt64(m.interruptions, s.Interruptions)
		o.ObserveInt64(m.sendErrors, s.SendErrors)
		o.ObserveInt64(m.activeUnits, int64(s.ActiveUnits))
		return nil
	}, m.captureFrames, m.inChunks, m.interruptions, m.sendErrors, m.activeUnits)
}

// CallTracker turns status changes into call outcome and timing metrics.
// Update must be called from one goroutine, as the controller's OnStateChange is.
type CallTracker struct {
	metrics *Metrics
	now     func() time.Time

	state        voicecall.CallState
	connectingAt time.Time
	connectedAt  time.Time
}

// Tracker returns a CallTracker recording into m
func (m *Metrics) Tracker() *CallTracker {
	return &CallTracker{metrics: m, now: time.Now}
}

// Update records the transition to st, if any
func (t *CallTracker) Update(st voicecall.Status) {
	if st.State == t.state {
		return
	}
	prev := t.state
	t.state = st.State
	now := t.now()
	ctx := context.Background()

	switch st.State {
	case voicecall.StateConnecting:
		t.connectingAt = now
		t.connectedAt = time.Time{}
	case voicecall.StateConnected:
		if prev == voicecall.StateConnecting && !t.connectingAt.IsZero() {
			t.metrics.SetupDuration.Record(ctx, now.Sub(t.connectingAt).Seconds())
			t.connectedAt = now
		}
	case voicecall.StateEnded, voicecall.StateError:
		t.metrics.Calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", st.State.String())))
		if !t.connectedAt.IsZero() {
			t.metrics.CallDuration.Record(ctx, now.Sub(t.connectedAt).Seconds())
		}
		t.connectingAt = time.Time{}
		t.connectedAt = time.Time{}
	}
}
