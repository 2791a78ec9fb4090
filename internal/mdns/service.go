// Package mdns advertises the barcodedrop server on the local network so
// scanner apps can find it without manual configuration.
package mdns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the mDNS service type for barcodedrop servers.
	ServiceType = "_barcodedrop._tcp"

	// WatchPath is the WebSocket route prefix advertised in TXT records.
	WatchPath = "/watch/"
)

// Advertisement describes what the server announces.
type Advertisement struct {
	Name    string // Instance name; defaults to the hostname
	Version string
	Port    int
	Store   string // Storage backend, informational
}

// TXTRecords returns the key=value pairs published with the service.
func (a Advertisement) TXTRecords() []string {
	records := []string{
		fmt.Sprintf("name=%s", a.Name),
		fmt.Sprintf("version=%s", a.Version),
		fmt.Sprintf("watch=%s", WatchPath),
	}
	if a.Store != "" {
		records = append(records, fmt.Sprintf("store=%s", a.Store))
	}
	return records
}

// Service manages mDNS advertisement for the server.
type Service struct {
	server *mdns.Server
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a new mDNS service.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		logger: logger,
	}
}

// Start begins advertising the server. It should be called after the HTTP
// server is listening. Errors are usually non-fatal (no multicast in
// containers).
func (s *Service) Start(ad Advertisement) error {
	if ad.Port <= 0 || ad.Port > 65535 {
		return errors.New("mdns: invalid port")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = "barcodedrop-server"
	}
	if ad.Name == "" {
		ad.Name = host
	}

	service, err := mdns.NewMDNSService(
		ad.Name,
		ServiceType,
		"", // .local
		"", // system hostname
		ad.Port,
		nil, // all interfaces
		ad.TXTRecords(),
	)
	if err != nil {
		return fmt.Errorf("create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mDNS server: %w", err)
	}

	s.server = server

	s.logger.Info("mDNS advertisement started",
		"service", ServiceType,
		"port", ad.Port,
		"name", ad.Name,
	)

	return nil
}

// Running reports whether the service is advertising.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Stop stops mDNS advertising.
// Safe to call multiple times or if not started.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
		s.logger.Info("mDNS advertisement stopped")
	}
}
