// ABOUTME: Local echo voice engine for development and tests
// ABOUTME: Speaks the live protocol and plays each utterance back after a pause
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/internal/discovery"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSilence is the pause that ends an utterance
	DefaultSilence = 700 * time.Millisecond

	// DefaultChunkFrames is 100ms of 24kHz audio per reply chunk
	DefaultChunkFrames = 2400

	writeTimeout = 5 * time.Second
)

// Config holds echo engine configuration
type Config struct {
	Addr string // listen address, e.g. ":8930"
	Path string // websocket path
	Name string // mDNS instance name

	// Key, when set, must match the client's key parameter.
	// A missing key is always rejected.
	Key string

	Silence     time.Duration // inbound quiet time before replying
	ChunkFrames int           // frames per reply chunk
	Pace        time.Duration // interval between reply chunks; defaults to real time

	EnableMDNS bool
	Logger     *slog.Logger
}

// Server is the echo engine
type Server struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	sessions atomic.Int64
	served   atomic.Int64
}

// New creates an echo engine
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = discovery.DefaultPath
	}
	if config.Name == "" {
		config.Name = "voicecall-echo"
	}
	if config.Silence <= 0 {
		config.Silence = DefaultSilence
	}
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = DefaultChunkFrames
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		logger: logger.With("component", "echo_engine"),
		upgrader: websocket.Upgrader{
			// Local development engine: non-browser clients send no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the websocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sessions returns the number of connections currently being served
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// Served returns the number of sessions that completed setup
func (s *Server) Served() int {
	return int(s.served.Load())
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	port := ln.Addr().(*net.TCPAddr).Port

	g, gctx := errgroup.WithContext(ctx)

	// Sessions outlive Shutdown once hijacked, so they hang off gctx
	httpServer := &http.Server{
		Handler:     s.mux,
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		s.logger.Info("echo engine listening", "addr", ln.Addr().String(), "path", s.config.Path)
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown", "error", err)
		}
		return nil
	})

	if s.config.EnableMDNS {
		g.Go(func() error {
			mdnsManager := discovery.NewManager(discovery.Config{
				ServiceName: s.config.Name,
				Port:        port,
				Path:        s.config.Path,
				Logger:      s.logger,
			})
			if err := mdnsManager.Advertise(); err != nil {
				// Advertisement is best effort; clients can still use a URL
				s.logger.Warn("failed to start mDNS advertisement", "error", err)
				return nil
			}
			<-gctx.Done()
			mdnsManager.Stop()
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("echo engine stopped")
	return err
}

// handleWebSocket upgrades and serves one client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &session{
		id:     uuid.New().String(),
		conn:   conn,
		config: s.config,
	}
	sess.logger = s.logger.With("connection_id", sess.id, "remote", r.RemoteAddr)

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	key := r.URL.Query().Get("key")
	if key == "" || (s.config.Key != "" && key != s.config.Key) {
		sess.reject(http.StatusUnauthorized, "UNAUTHENTICATED", "API key not valid")
		return
	}

	if err := sess.setup(); err != nil {
		sess.logger.Warn("setup failed", "error", err)
		_ = conn.Close()
		return
	}
	s.served.Add(1)

	if err := sess.run(r.Context()); err != nil {
		sess.logger.Warn("session ended with error", "error", err)
		return
	}
	sess.logger.Info("session ended")
}

// writeJSON sends one server message
func writeJSON(conn *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
