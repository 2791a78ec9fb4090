package search

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// SearchIndex wraps a Bleve index of scans.
//
// Thread safety: All public methods are safe for concurrent use.
// The mutex protects against index corruption during rebuild operations.
type SearchIndex struct {
	index   bleve.Index
	path    string
	memOnly bool
	logger  *slog.Logger
	mu      sync.RWMutex // Protects index operations during rebuild
}

// Options configures the search index.
type Options struct {
	Path    string       // Index directory; ignored when MemOnly
	MemOnly bool         // Keep the index in memory only
	Logger  *slog.Logger // Logger for operations (uses discard if nil)
}

// mappingVersion is incremented whenever the index mapping changes.
// This triggers an automatic rebuild on startup when the version doesn't match.
const mappingVersion = "scan-1"

// ErrMissingImage is returned by ApplyChange for events without the
// document image the operation needs.
var ErrMissingImage = errors.New("change event has no document image")

// NewSearchIndex creates or opens a search index.
// If an existing index is found, it opens it. Otherwise, creates a new one.
// If the existing index is corrupted or has an outdated mapping, it's removed and recreated.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.MemOnly {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &SearchIndex{index: index, memOnly: true, logger: logger}, nil
	}

	if opts.Path == "" {
		return nil, errors.New("search index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index parent: %w", err)
	}

	indexPath := opts.Path
	versionPath := indexPath + ".version"

	var index bleve.Index
	var err error
	needsRebuild := false

	indexExists := false
	if _, statErr := os.Stat(indexPath); statErr == nil {
		indexExists = true
	}

	if indexExists {
		existingVersion, readErr := os.ReadFile(versionPath)
		if readErr != nil {
			logger.Info("search index has no version file, will rebuild with current mapping",
				"new_version", mappingVersion,
			)
			needsRebuild = true
		} else if string(existingVersion) != mappingVersion {
			logger.Info("search index mapping version changed, will rebuild",
				"old_version", string(existingVersion),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}

	if !needsRebuild && indexExists {
		index, err = bleve.Open(indexPath)
		if err != nil {
			logger.Warn("failed to open existing index, will recreate",
				"path", indexPath,
				"error", err,
			)
			needsRebuild = true
		}
	}

	if needsRebuild {
		if removeErr := os.RemoveAll(indexPath); removeErr != nil {
			return nil, fmt.Errorf("remove old index: %w", removeErr)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if writeErr := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); writeErr != nil {
			logger.Warn("failed to write search version file", "error", writeErr)
		}
		logger.Info("created new search index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		logger.Info("opened existing search index", "path", indexPath)
	}

	return &SearchIndex{
		index:  index,
		path:   indexPath,
		logger: logger,
	}, nil
}

// Close closes the index and releases resources.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexScan indexes a single scan.
func (s *SearchIndex) IndexScan(scan *domain.Scan) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(scan.ID, ScanToDocument(scan).ToMap())
}

// IndexScans indexes scans in batches of 500.
func (s *SearchIndex) IndexScans(scans []*domain.Scan) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const batchSize = 500

	for i := 0; i < len(scans); i += batchSize {
		end := min(i+batchSize, len(scans))

		batch := s.index.NewBatch()
		for _, scan := range scans[i:end] {
			if err := batch.Index(scan.ID, ScanToDocument(scan).ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", scan.ID, err)
			}
		}

		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// DeleteScan removes a scan from the index.
func (s *SearchIndex) DeleteScan(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(id)
}

// DeleteScans removes multiple scans from the index.
func (s *SearchIndex) DeleteScans(ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	return s.index.Batch(batch)
}

// ApplyChange mirrors one change feed event into the index. Unassigned
// scans are indexed too.
func (s *SearchIndex) ApplyChange(ev *store.ChangeEvent) error {
	switch ev.Op {
	case store.OpDelete:
		doc := ev.Before
		if doc == nil {
			doc = ev.After
		}
		if doc == nil {
			return fmt.Errorf("apply %s #%d: %w", ev.Op, ev.Seq, ErrMissingImage)
		}
		return s.DeleteScan(doc.ID)
	case store.OpInsert, store.OpUpdate, store.OpReplace:
		if ev.After == nil {
			return fmt.Errorf("apply %s #%d: %w", ev.Op, ev.Seq, ErrMissingImage)
		}
		return s.IndexScan(ev.After)
	default:
		return fmt.Errorf("apply change #%d: unknown operation %q", ev.Seq, ev.Op)
	}
}

// DocumentCount returns the total number of indexed documents.
func (s *SearchIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops the existing index and creates a new, empty one.
//
// This acquires an exclusive lock and blocks all other operations.
func (s *SearchIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if s.memOnly {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		index, err = bleve.New(s.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.index = index
	s.logger.Info("rebuilt search index", "path", s.path, "mem_only", s.memOnly)

	return nil
}

// Reindex replaces the index contents with scans.
func (s *SearchIndex) Reindex(scans []*domain.Scan) error {
	if err := s.Rebuild(); err != nil {
		return err
	}
	if err := s.IndexScans(scans); err != nil {
		return fmt.Errorf("index scans: %w", err)
	}
	s.logger.Info("reindexed scans", "count", len(scans))
	return nil
}
