// ABOUTME: mDNS service discovery for voice engines
// ABOUTME: Handles both advertisement (engine side) and browsing (client side)
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service advertised by voice engines
const ServiceType = "_voicecall-engine._tcp"

// DefaultPath is assumed when an engine advertises no path
const DefaultPath = "/live"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path advertised in TXT
	Logger      *slog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	engines chan *EngineInfo
}

// EngineInfo describes a discovered engine
type EngineInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the engine's websocket endpoint
func (e *EngineInfo) URL() string {
	path := e.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Path == "" {
		config.Path = DefaultPath
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  config,
		logger:  logger.With("component", "discovery"),
		ctx:     ctx,
		cancel:  cancel,
		engines: make(chan *EngineInfo, 10),
	}
}

// Advertise announces an engine via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("advertising mDNS service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for engines until Stop
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for engines
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		forwarded := make(chan struct{})

		go func() {
			defer close(forwarded)
			for entry := range entries {
				engine := engineFromEntry(entry)
				if engine == nil {
					continue
				}

				m.logger.Info("discovered engine", "name", engine.Name, "url", engine.URL())

				select {
				case m.engines <- engine:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     3 * time.Second,
			Entries:     entries,
			DisableIPv6: true,
		}

		err := mdns.Query(params)
		close(entries)
		<-forwarded

		if err != nil {
			m.logger.Warn("mDNS query failed", "error", err)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// engineFromEntry converts a browse result, skipping entries with no usable address
func engineFromEntry(entry *mdns.ServiceEntry) *EngineInfo {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	host := ""
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil
	}

	return &EngineInfo{
		Name: entry.Name,
		Host: host,
		Port: entry.Port,
		Path: pathFromTXT(entry.InfoFields),
	}
}

// pathFromTXT extracts path=... from TXT records
func pathFromTXT(fields []string) string {
	for _, field := range fields {
		if value, ok := strings.CutPrefix(field, "path="); ok {
			return value
		}
	}
	return DefaultPath
}

// Engines returns the channel of discovered engines
func (m *Manager) Engines() <-chan *EngineInfo {
	return m.engines
}

// Find browses until the first engine is found or ctx ends
func (m *Manager) Find(ctx context.Context) (*EngineInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}
	defer m.Stop()

	select {
	case engine := <-m.engines:
		return engine, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no voice engine found: %w", ctx.Err())
	}
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
