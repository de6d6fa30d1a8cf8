// ABOUTME: Entry point for the voice call client
// ABOUTME: Loads config, wires devices and transport, and runs the TUI or open-mic mode
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
	"github.com/Resonate-Protocol/voicecall-go/internal/discovery"
	"github.com/Resonate-Protocol/voicecall-go/internal/observe"
	"github.com/Resonate-Protocol/voicecall-go/internal/ui"
	"github.com/Resonate-Protocol/voicecall-go/internal/version"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/output"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
	"github.com/Resonate-Protocol/voicecall-go/pkg/voicecall"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	engineURL   = flag.String("engine", "", "Engine websocket URL (overrides config)")
	discover    = flag.Bool("discover", false, "Find a local engine via mDNS instead of the configured URL")
	voice       = flag.String("voice", "", "Prebuilt voice name")
	backend     = flag.String("backend", "", "Playback backend: oto or malgo")
	logFile     = flag.String("log-file", "", "Log file path")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI and run an open-mic call, use streaming logs instead")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var out io.Writer = f
	if !useTUI {
		// Streaming logs mode: log to both stdout and file
		out = io.MultiWriter(os.Stdout, f)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel.Slog()}))
	slog.SetDefault(logger)

	logger.Info("starting", "version", version.String(), "tui", useTUI)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, useTUI, logger); err != nil {
		logger.Error("voice call client failed", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("stopped")
}

// applyFlags overrides config values with any flags that were set
func applyFlags(cfg *config.Config) {
	if *engineURL != "" {
		cfg.Engine.URL = *engineURL
	}
	if *discover {
		cfg.Engine.URL = ""
	}
	if *voice != "" {
		cfg.Engine.Voice = *voice
	}
	if *backend != "" {
		cfg.Playback.Backend = config.Backend(*backend)
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *logLevel != "" {
		cfg.LogLevel = config.LogLevel(*logLevel)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
}

func run(ctx context.Context, cfg *config.Config, useTUI bool, logger *slog.Logger) error {
	url, err := resolveEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	credential := cfg.Credential()
	if credential == "" {
		logger.Warn("no credential in environment; calls will fail", "env", cfg.Engine.CredentialEnv)
	}

	var prog *tea.Program
	var controller *voicecall.Controller
	var provider *observe.Provider
	var metrics *observe.Metrics
	var tracker *observe.CallTracker

	if cfg.Metrics.Addr != "" {
		if provider, err = observe.NewProvider(observe.ProviderConfig{ServiceVersion: version.Version}); err != nil {
			return err
		}
		if metrics, err = observe.NewMetrics(provider); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		tracker = metrics.Tracker()
	}

	onStateChange := func(st voicecall.Status) {
		if tracker != nil {
			tracker.Update(st)
		}
		logger.Info("call status", "state", st.State.String(), "talking", st.Talking, "held", st.Held, "error", st.Text)
		if prog != nil {
			prog.Send(ui.StatusMsg{Status: st})
			return
		}
		// Open mic: talk as soon as the call connects
		if st.State == voicecall.StateConnected && !st.Talking {
			controller.PressTalk()
		}
	}

	controller = voicecall.NewController(voicecall.Config{
		Dialer:  engineDialer(cfg, url, logger),
		Capture: capture.NewMalgo(logger),
		Output:  newOutput(cfg.Playback.Backend, logger),
		CaptureConfig: voicecall.CaptureConfig{
			DeviceRate: cfg.Capture.DeviceRate,
			Channels:   cfg.Capture.Channels,
			BlockSize:  cfg.Capture.BlockSize,
		},
		Logger:        logger,
		OnStateChange: onStateChange,
	})

	if metrics != nil {
		reg, err := metrics.Observe(controller)
		if err != nil {
			return fmt.Errorf("failed to observe controller: %w", err)
		}
		defer func() { _ = reg.Unregister() }()
	}

	shell := &callShell{Controller: controller, credential: credential}
	if useTUI {
		prog = ui.Run(shell, url)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		return controller.Run(runCtx)
	})

	if provider != nil {
		g.Go(func() error {
			return provider.Serve(runCtx, cfg.Metrics.Addr, logger)
		})
	}

	if prog != nil {
		g.Go(func() error {
			defer cancelRun()
			if _, err := prog.Run(); err != nil {
				return fmt.Errorf("TUI failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			prog.Quit()
			return nil
		})
	} else {
		logger.Info("open-mic mode, press Ctrl-C to hang up", "engine", url)
		shell.StartCall()
	}

	return g.Wait()
}

// resolveEngine returns the configured URL or discovers a local engine
func resolveEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Engine.URL != "" {
		return cfg.Engine.URL, nil
	}

	logger.Info("starting engine discovery", "timeout", cfg.Engine.DiscoveryTimeout)
	findCtx, cancel := context.WithTimeout(ctx, cfg.Engine.DiscoveryTimeout)
	defer cancel()

	disc := discovery.NewManager(discovery.Config{Logger: logger})
	engine, err := disc.Find(findCtx)
	if err != nil {
		return "", err
	}
	logger.Info("discovered engine", "name", engine.Name, "url", engine.URL())
	return engine.URL(), nil
}

// engineDialer connects calls with the live protocol client
func engineDialer(cfg *config.Config, url string, logger *slog.Logger) voicecall.Dialer {
	pc := protocol.Config{
		URL:               url,
		Model:             cfg.Engine.Model,
		Voice:             cfg.Engine.Voice,
		SystemInstruction: cfg.Engine.SystemInstruction,
		SetupTimeout:      cfg.Engine.SetupTimeout,
		SendQueue:         cfg.Engine.SendQueue,
		Logger:            logger.With("component", "protocol"),
	}
	return voicecall.DialFunc(func(ctx context.Context, credential string) (voicecall.Session, error) {
		client, err := protocol.Dial(ctx, pc, credential)
		if err != nil {
			// Never wrap a nil *Client in the interface
			return nil, err
		}
		return client, nil
	})
}

func newOutput(backend config.Backend, logger *slog.Logger) output.Device {
	if backend == config.BackendMalgo {
		return output.NewMalgo(logger)
	}
	return output.NewOto(logger)
}

// callShell binds the credential to the controller for the TUI
type callShell struct {
	*voicecall.Controller
	credential string
}

func (s *callShell) StartCall() {
	s.Controller.StartCall(s.credential)
}
