// Package di provides dependency injection configuration for the barcodedrop server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/changefeed"
	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/di/providers"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/resync"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideSearchIndex)

	// Live sync core
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideSupervisor)
	do.Provide(injector, providers.ProvideResyncScheduler)
	do.Provide(injector, providers.ProvideChangeFeedWatcher)
	do.Provide(injector, providers.ProvideBroadcaster)

	// Business services
	do.Provide(injector, providers.ProvideScanService)
	do.Provide(injector, providers.ProvideRateLimiter)

	// Workers
	do.Provide(injector, providers.ProvideChangelogTrimJob)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideMDNSService)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SearchIndexHandle](injector); err != nil {
		return err
	}

	// Live sync core
	_ = do.MustInvoke[*realtime.Registry](injector)
	_ = do.MustInvoke[*providers.SupervisorHandle](injector)
	_ = do.MustInvoke[*resync.Scheduler](injector)
	_ = do.MustInvoke[*changefeed.Watcher](injector)
	_ = do.MustInvoke[*service.Broadcaster](injector)

	// Business services
	_ = do.MustInvoke[*service.ScanService](injector)
	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)

	// Workers
	_ = do.MustInvoke[*providers.ChangelogTrimJob](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)
	_ = do.MustInvoke[*providers.MDNSServiceHandle](injector)

	// Trigger search reindex if needed
	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
