package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/changefeed"
	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/resync"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
	"github.com/barcodedrop/barcodedrop-server/internal/supervisor"
)

// Supervised loop names.
const (
	loopChangeFeed = "changefeed"
	loopResync     = "resync"
)

// ProvideRegistry provides the watcher connection registry. The supervisor
// closes it during shutdown.
func ProvideRegistry(i do.Injector) (*realtime.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return realtime.NewRegistry(log.Component("registry"), realtime.Options{
		PingInterval: cfg.Sync.PingInterval,
		SendTimeout:  cfg.Sync.SendTimeout,
	}), nil
}

// SupervisorHandle wraps the task supervisor with shutdown capability.
type SupervisorHandle struct {
	*supervisor.Supervisor
	budget time.Duration
}

// Shutdown implements do.Shutdownable. Loops stop first, then in-flight
// fan-out tasks get the sync shutdown budget, then the registry closes.
func (h *SupervisorHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.budget)
	defer cancel()
	return h.Supervisor.Shutdown(ctx)
}

// ProvideSupervisor provides the supervisor that owns every sync loop and
// fan-out task.
func ProvideSupervisor(i do.Injector) (*SupervisorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	registry := do.MustInvoke[*realtime.Registry](i)
	// Supervised tasks read from the store and feed the search index, so
	// both must shut down after them.
	_ = do.MustInvoke[*StoreHandle](i)
	_ = do.MustInvoke[*SearchIndexHandle](i)

	sup := supervisor.New(log.Component("supervisor"), registry)
	return &SupervisorHandle{
		Supervisor: sup,
		budget:     shutdownBudget(cfg.Sync.ShutdownTimeout),
	}, nil
}

// ProvideResyncScheduler provides the ReplaceAll scheduler and starts its
// periodic loop. Every new watcher connection gets a delayed snapshot.
func ProvideResyncScheduler(i do.Injector) (*resync.Scheduler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	registry := do.MustInvoke[*realtime.Registry](i)
	sup := do.MustInvoke[*SupervisorHandle](i)

	scheduler := resync.New(storeHandle, registry, sup, log.Component("resync"), resync.Options{
		Interval:     cfg.Sync.ResyncInterval,
		InitialDelay: cfg.Sync.InitialResyncDelay,
	})
	registry.OnAttach(scheduler.OnAttach)
	sup.Start(loopResync, scheduler.Run)

	return scheduler, nil
}

// ProvideChangeFeedWatcher provides the change feed watcher and starts it.
// Every change also updates the search index.
func ProvideChangeFeedWatcher(i do.Injector) (*changefeed.Watcher, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	registry := do.MustInvoke[*realtime.Registry](i)
	sup := do.MustInvoke[*SupervisorHandle](i)
	scheduler := do.MustInvoke[*resync.Scheduler](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)

	watcher := changefeed.New(storeHandle, registry, sup, log.Component("changefeed"), changefeed.Options{
		Backoff: cfg.Sync.ResubscribeBackoff,
	})
	watcher.SetResyncer(scheduler)
	watcher.SetIndexer(indexHandle.SearchIndex)
	sup.Start(loopChangeFeed, watcher.Run)

	log.Info("Live sync started",
		"ping_interval", cfg.Sync.PingInterval,
		"resync_interval", cfg.Sync.ResyncInterval,
		"direct_notify", cfg.Sync.DirectNotify,
	)

	return watcher, nil
}

// ProvideBroadcaster provides direct notification for mutating routes.
// It returns nil unless SYNC_DIRECT_NOTIFY is enabled, leaving delivery to
// the change feed alone.
func ProvideBroadcaster(i do.Injector) (*service.Broadcaster, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if !cfg.Sync.DirectNotify {
		return nil, nil
	}

	log := do.MustInvoke[*logger.Logger](i)
	registry := do.MustInvoke[*realtime.Registry](i)
	sup := do.MustInvoke[*SupervisorHandle](i)
	scheduler := do.MustInvoke[*resync.Scheduler](i)

	return service.NewBroadcaster(registry, sup, scheduler, log.Component("notify")), nil
}
