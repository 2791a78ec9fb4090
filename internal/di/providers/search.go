package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/logger"
	"github.com/barcodedrop/barcodedrop-server/internal/search"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.SearchIndex
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve search index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.NewSearchIndex(search.Options{
		Path:   cfg.Store.SearchIndexPath(),
		Logger: log.Component("search"),
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.DocumentCount()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{SearchIndex: index}, nil
}

// TriggerSearchReindexIfNeeded fills an empty index from the store in the
// background. Should be called after all services are wired.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	scans := do.MustInvoke[*service.ScanService](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	go func() {
		ran, err := scans.ReindexIfEmpty(context.Background())
		switch {
		case err != nil:
			log.Error("Initial search reindex failed", "error", err)
		case ran:
			count, _ := indexHandle.DocumentCount()
			log.Info("Initial search reindex completed", "documents", count)
		}
	}()
}
