// ABOUTME: WebSocket client for live voice engine sessions
// ABOUTME: Handles dial, setup handshake, outbound audio queue and event routing
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/gorilla/websocket"
)

const (
	// DefaultSetupTimeout bounds the wait for setupComplete
	DefaultSetupTimeout = 10 * time.Second

	// DefaultSendQueue is the number of outbound frames buffered before dropping
	DefaultSendQueue = 64

	keepaliveInterval = 20 * time.Second
	writeTimeout      = 5 * time.Second
	eventBuffer       = 64
)

var (
	// ErrNotConnected is returned when sending on a closed session
	ErrNotConnected = errors.New("not connected")

	// ErrSendQueueFull is returned when the outbound queue is full; the frame is dropped
	ErrSendQueueFull = errors.New("send queue full")

	// ErrEngine wraps error payloads reported by the engine
	ErrEngine = errors.New("engine error")

	// ErrAbnormalClose wraps connection losses that were not a normal closure
	ErrAbnormalClose = errors.New("connection lost")
)

// Config holds client configuration
type Config struct {
	URL               string // ws:// or wss:// endpoint
	Model             string
	Voice             string // optional prebuilt voice
	SystemInstruction string // optional
	SetupTimeout      time.Duration
	SendQueue         int
	Logger            *slog.Logger
}

// Client is one live session with a voice engine
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan Event
	done   chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the engine, sends setup and waits for setupComplete.
// The credential is passed as the key query parameter.
func Dial(ctx context.Context, cfg Config, credential string) (*Client, error) {
	if credential == "" {
		return nil, fmt.Errorf("credential required")
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid engine url: %w", err)
	}
	q := u.Query()
	q.Set("key", credential)
	u.RawQuery = q.Encode()

	logger.Info("connecting to voice engine", "host", u.Host, "path", u.Path)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.SetupTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	// Abort the handshake if ctx ends while waiting on the engine
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = setup(conn, cfg)
	if !stop() {
		conn.Close()
		return nil, fmt.Errorf("setup aborted: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	c := &Client{
		conn:   conn,
		send:   make(chan []byte, cfg.SendQueue),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}

	c.wg.Add(2)
	go c.readMessages()
	go c.writeMessages()

	logger.Info("voice engine session established", "model", cfg.Model)
	return c, nil
}

// setup performs the setup/setupComplete handshake
func setup(conn *websocket.Conn, cfg Config) error {
	msg := ClientMessage{Setup: &Setup{
		Model: cfg.Model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
		},
	}}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}

	conn.SetWriteDeadline(time.Now().Add(cfg.SetupTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(cfg.SetupTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read setupComplete: %w", err)
		}

		var reply ServerMessage
		if err := json.Unmarshal(data, &reply); err != nil {
			return fmt.Errorf("failed to parse setup reply: %w", err)
		}
		if reply.Error != nil {
			return engineError(reply.Error)
		}
		if reply.SetupComplete != nil {
			return nil
		}
	}
}

func engineError(p *ErrorPayload) error {
	return fmt.Errorf("%w: %d %s: %s", ErrEngine, p.Code, p.Status, p.Message)
}

// SendAudio queues one captured chunk without blocking
func (c *Client) SendAudio(chunk audio.Chunk) error {
	data, err := json.Marshal(ClientMessage{RealtimeInput: &RealtimeInput{
		MediaChunks: []InlineData{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
	}})
	if err != nil {
		return fmt.Errorf("failed to encode audio: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Events returns the ordered inbound event stream.
// It is closed after a terminal event or after Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// readMessages reads and routes incoming frames
func (c *Client) readMessages() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing() {
				return
			}
			c.emit(terminalEvent(err))
			c.shutdown(false)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to parse engine message", "error", err)
			continue
		}

		if msg.Error != nil {
			c.emit(Event{Type: EventError, Err: engineError(msg.Error)})
			c.shutdown(true)
			return
		}
		if msg.ServerContent != nil {
			for _, ev := range eventsFor(msg.ServerContent) {
				if !c.emit(ev) {
					return
				}
			}
		}
	}
}

// terminalEvent classifies a read failure
func terminalEvent(err error) Event {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return Event{Type: EventClosed}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return Event{Type: EventError, Err: fmt.Errorf("%w: close %d %s", ErrAbnormalClose, ce.Code, ce.Text)}
	}
	return Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrAbnormalClose, err)}
}

// emit delivers an event unless the client is closing
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// writeMessages serializes outbound frames and keepalive pings
func (c *Client) writeMessages() {
	defer c.wg.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write error", "error", err)
				// The reader observes the broken connection and reports it
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

func (c *Client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// shutdown stops both loops and closes the connection once
func (c *Client) shutdown(sendClose bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		if sendClose {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		c.conn.Close()
		c.logger.Info("voice engine session closed")
	})
}

// Close ends the session. Safe to call repeatedly.
func (c *Client) Close() error {
	c.shutdown(true)
	c.wg.Wait()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}
