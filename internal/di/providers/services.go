package providers

import (
	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/ratelimit"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
)

// ProvideScanService provides the scan service used by every HTTP route.
func ProvideScanService(i do.Injector) (*service.ScanService, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	notifier := do.MustInvoke[*service.Broadcaster](i)

	return service.NewScanService(storeHandle, indexHandle.SearchIndex, notifier, log.Component("scans")), nil
}

// RateLimiterHandle wraps the keyed rate limiter with shutdown capability.
// Limiter is nil when rate limiting is disabled.
type RateLimiterHandle struct {
	Limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	if h.Limiter != nil {
		h.Limiter.Stop()
	}
	return nil
}

// ProvideRateLimiter provides the per-client limiter for mutating routes.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.RateLimit.Enabled {
		log.Info("Rate limiting disabled by configuration")
		return &RateLimiterHandle{}, nil
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, ratelimit.DefaultIdleTTL)
	log.Info("Rate limiting enabled",
		"requests_per_second", cfg.RateLimit.RequestsPerSecond,
		"burst", cfg.RateLimit.Burst,
	)
	return &RateLimiterHandle{Limiter: limiter}, nil
}
