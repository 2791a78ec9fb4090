package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
)

// ChangelogTrimJob periodically drops change feed entries older than the
// retention window.
type ChangelogTrimJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (j *ChangelogTrimJob) Shutdown() error {
	j.cancel()
	<-j.done
	return nil
}

// ProvideChangelogTrimJob provides the periodic changelog trim job.
func ProvideChangelogTrimJob(i do.Injector) (*ChangelogTrimJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	trim := func() {
		cutoff := time.Now().Add(-cfg.Store.ChangelogRetention)
		if count, err := storeHandle.TrimChangelog(ctx, cutoff); err != nil {
			if ctx.Err() == nil {
				log.Warn("Changelog trim failed", "error", err)
			}
		} else if count > 0 {
			log.Info("Changelog trimmed", "deleted", count, "cutoff", cutoff)
		}
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(cfg.Store.TrimInterval)
		defer ticker.Stop()

		// Initial trim on startup
		trim()

		for {
			select {
			case <-ticker.C:
				trim()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Changelog trim job started",
		"retention", cfg.Store.ChangelogRetention,
		"interval", cfg.Store.TrimInterval,
	)

	return &ChangelogTrimJob{cancel: cancel, done: done}, nil
}
