package providers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
	"github.com/barcodedrop/barcodedrop-server/internal/store/sqlite"
)

// StoreHandle wraps the scan store with shutdown capability.
type StoreHandle struct {
	store.ScanStore
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured scan store backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	path := cfg.Store.BackendPath()
	storeLog := log.Component("store")

	var (
		st  store.ScanStore
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err = sqlite.Open(path, storeLog, cfg.Store.FeedPoll)
	case config.BackendBadger:
		st, err = store.New(path, storeLog, store.Options{FeedPoll: cfg.Store.FeedPoll})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	log.Info("Store initialized", "backend", cfg.Store.Backend, "path", path)

	return &StoreHandle{ScanStore: st}, nil
}
