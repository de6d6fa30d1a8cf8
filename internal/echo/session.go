// ABOUTME: One echo engine connection
// ABOUTME: Buffers an utterance, replies after silence, and yields to barge-in
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/resample"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type session struct {
	id     string
	conn   *websocket.Conn
	config Config
	logger *slog.Logger

	decoder decode.Decoder
	encoder encode.Encoder
}

// reject reports an engine error and closes the connection
func (s *session) reject(code int, status, message string) {
	s.logger.Warn("rejecting connection", "status", status)
	msg := protocol.ServerMessage{Error: &protocol.ErrorPayload{
		Code:    code,
		Message: message,
		Status:  status,
	}}
	if err := writeJSON(s.conn, msg); err != nil {
		s.logger.Debug("failed to send rejection", "error", err)
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(writeTimeout))

	// Wait for the client to hang up so the error is not lost to a reset
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = s.conn.Close()
}

// setup waits for the client's setup frame and acknowledges it
func (s *session) setup() error {
	_ = s.conn.SetReadDeadline(time.Now().Add(protocol.DefaultSetupTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read setup: %w", err)
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	var msg protocol.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Setup == nil {
		s.reject(400, "INVALID_ARGUMENT", "first message must be setup")
		return fmt.Errorf("expected setup message")
	}

	s.logger.Info("session setup", "model", msg.Setup.Model)
	return writeJSON(s.conn, protocol.SetupCompleteMessage())
}

// run serves the session until the client leaves or ctx ends
func (s *session) run(ctx context.Context) error {
	var err error
	if s.decoder, err = decode.NewPCM(audio.CaptureRate, 1); err != nil {
		return err
	}
	defer s.decoder.Close()
	if s.encoder, err = encode.NewPCM(audio.PlaybackRate, 1); err != nil {
		return err
	}
	defer s.encoder.Close()

	g, gctx := errgroup.WithContext(ctx)
	utterances := make(chan []float32, 64)

	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	defer stop()

	g.Go(func() error { return s.readLoop(gctx, utterances) })
	g.Go(func() error { return s.replyLoop(gctx, utterances) })

	err = g.Wait()
	_ = s.conn.Close()
	return err
}

// readLoop decodes inbound audio, converts it to the reply rate and hands it on.
// samples is closed when the client goes away.
func (s *session) readLoop(ctx context.Context, samples chan<- []float32) error {
	defer close(samples)

	resampler := resample.New(audio.CaptureRate, audio.PlaybackRate, 1)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring unparseable frame", "error", err)
			continue
		}
		if msg.RealtimeInput == nil {
			continue
		}

		for _, media := range msg.RealtimeInput.MediaChunks {
			chunk := audio.Chunk{MIMEType: media.MIMEType, Data: media.Data}
			frame, err := s.decoder.Decode(chunk)
			if err != nil {
				s.logger.Debug("dropping inbound chunk", "error", err)
				continue
			}
			out := resampler.Resample(frame.Channels)[0]
			select {
			case samples <- out:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// replyLoop is the turn state machine: collect, wait for silence, play back
func (s *session) replyLoop(ctx context.Context, samples <-chan []float32) error {
	pace := s.config.Pace
	if pace <= 0 {
		pace = audio.FramesToDuration(int64(s.config.ChunkFrames), audio.PlaybackRate)
	}

	silence := time.NewTimer(s.config.Silence)
	silence.Stop()
	defer silence.Stop()

	ticker := time.NewTicker(pace)
	ticker.Stop()
	defer ticker.Stop()

	var heard, reply []float32
	replying := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case block, ok := <-samples:
			if !ok {
				return nil
			}
			if replying {
				replying = false
				reply = nil
				ticker.Stop()
				s.logger.Info("reply interrupted")
				if err := s.send(protocol.ServerContent{Interrupted: true}); err != nil {
					return err
				}
			}
			heard = append(heard, block...)
			silence.Reset(s.config.Silence)

		case <-silence.C:
			if len(heard) == 0 {
				continue
			}
			reply, heard = heard, nil
			replying = true
			s.logger.Info("replying", "duration", audio.FramesToDuration(int64(len(reply)), audio.PlaybackRate))
			ticker.Reset(pace)
			if err := s.sendNext(&reply); err != nil {
				return err
			}

		case <-ticker.C:
			if !replying {
				continue
			}
			if len(reply) == 0 {
				replying = false
				ticker.Stop()
				if err := s.send(protocol.ServerContent{TurnComplete: true}); err != nil {
					return err
				}
				continue
			}
			if err := s.sendNext(&reply); err != nil {
				return err
			}
		}
	}
}

// sendNext sends the next reply chunk and trims it from reply
func (s *session) sendNext(reply *[]float32) error {
	n := min(s.config.ChunkFrames, len(*reply))
	chunk, err := s.encoder.Encode(audio.Mono((*reply)[:n], audio.PlaybackRate))
	if err != nil {
		return err
	}
	*reply = (*reply)[n:]

	return s.send(protocol.ServerContent{ModelTurn: &protocol.Content{
		Parts: []protocol.Part{{InlineData: &protocol.InlineData{
			MIMEType: chunk.MIMEType,
			Data:     chunk.Data,
		}}},
	}})
}

func (s *session) send(content protocol.ServerContent) error {
	if err := writeJSON(s.conn, protocol.ServerMessage{ServerContent: &content}); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}
