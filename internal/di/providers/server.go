package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/api"
	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/mdns"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	registry := do.MustInvoke[*realtime.Registry](i)
	scans := do.MustInvoke[*service.ScanService](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)
	// The live sync core must be running before the first watcher attaches,
	// and must stop only after the server has drained.
	_ = do.MustInvoke[*SupervisorHandle](i)

	watch := realtime.NewHandler(registry, log.Component("watch"), cfg.Server.CORSOrigins)

	handler := api.NewServer(api.Dependencies{
		Store:    storeHandle,
		Scans:    scans,
		Index:    indexHandle.SearchIndex,
		Registry: registry,
		Watch:    watch,
		Limiter:  limiter.Limiter,
	}, api.Options{
		Version:     config.Version,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, log.Component("api"))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}

// MDNSServiceHandle wraps mdns.Service with Shutdownable.
type MDNSServiceHandle struct {
	*mdns.Service
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *MDNSServiceHandle) Shutdown() error {
	if h.started && h.Service != nil {
		h.Stop()
	}
	return nil
}

// ProvideMDNSService provides the mDNS advertisement service.
func ProvideMDNSService(i do.Injector) (*MDNSServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Server.AdvertiseMDNS {
		log.Info("mDNS advertisement disabled by configuration")
		return &MDNSServiceHandle{Service: nil, started: false}, nil
	}

	svc := mdns.NewService(log.Component("mdns"))

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Warn("Failed to parse server port for mDNS", "port", cfg.Server.Port)
		return &MDNSServiceHandle{Service: svc, started: false}, nil
	}

	if err := svc.Start(mdns.Advertisement{
		Name:    cfg.App.Name,
		Version: config.Version,
		Port:    port,
		Store:   cfg.Store.Backend,
	}); err != nil {
		log.Warn("mDNS advertisement unavailable", "error", err)
		// Non-fatal: server works without mDNS (e.g., Docker, cloud)
		return &MDNSServiceHandle{Service: svc, started: false}, nil
	}

	return &MDNSServiceHandle{Service: svc, started: true}, nil
}
