// ABOUTME: Entry point for the local echo voice engine
// ABOUTME: Parses CLI flags and serves the echo engine until interrupted
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/voicecall-go/internal/config"
	"github.com/Resonate-Protocol/voicecall-go/internal/echo"
	"github.com/Resonate-Protocol/voicecall-go/internal/version"
)

var (
	port     = flag.Int("port", 8930, "WebSocket server port")
	name     = flag.String("name", "", "Engine friendly name (default: hostname-voicecall-echo)")
	key      = flag.String("key", "", "Require this API key (default: accept any non-empty key)")
	silence  = flag.Duration("silence", echo.DefaultSilence, "Pause that ends an utterance")
	logFile  = flag.String("log-file", "voicecall-echo.log", "Log file path")
	logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	noMDNS   = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	level := config.LogLevel(*logLevel)
	if !level.IsValid() {
		log.Fatalf("invalid log level %q", *logLevel)
	}

	// Log to both file and stdout
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, f), &slog.HandlerOptions{Level: level.Slog()}))
	slog.SetDefault(logger)

	engineName := *name
	if engineName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		engineName = fmt.Sprintf("%s-voicecall-echo", hostname)
	}

	logger.Info("starting echo engine", "name", engineName, "port", *port, "version", version.String())
	logger.Info("press Ctrl-C to stop")

	srv := echo.New(echo.Config{
		Addr:       fmt.Sprintf(":%d", *port),
		Name:       engineName,
		Key:        *key,
		Silence:    *silence,
		EnableMDNS: !*noMDNS,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("echo engine failed", "error", err)
		os.Exit(1)
	}
}
