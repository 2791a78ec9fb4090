// Package service implements the scan operations behind the HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	domainerrors "github.com/barcodedrop/barcodedrop-server/internal/errors"
	"github.com/barcodedrop/barcodedrop-server/internal/normalize"
	"github.com/barcodedrop/barcodedrop-server/internal/search"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// Defaults for the bulk delete routes.
const (
	DefaultKeepLast  = 5
	DefaultOlderThan = time.Hour
)

// ScanService records, lists and deletes scans. Live updates normally reach
// watchers through the change feed; when a Broadcaster is set, mutations are
// also pushed directly.
type ScanService struct {
	store    store.ScanStore
	index    *search.SearchIndex
	notifier *Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// NewScanService creates a new scan service. index and notifier may be nil.
func NewScanService(st store.ScanStore, index *search.SearchIndex, notifier *Broadcaster, logger *slog.Logger) *ScanService {
	return &ScanService{
		store:    st,
		index:    index,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Record stores a new scan for user. The server assigns the id and date.
func (s *ScanService) Record(ctx context.Context, user, rawBarcode string) (*domain.Scan, error) {
	barcode := normalize.Barcode(rawBarcode)
	if barcode == "" {
		return nil, domainerrors.Validation("barcode is required")
	}

	scan := &domain.Scan{
		Barcode: barcode,
		User:    normalize.User(user),
	}
	if err := s.store.Insert(ctx, scan); err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}

	s.logger.Info("scan recorded",
		slog.String("user", scan.User),
		slog.String("barcode", scan.Barcode),
		slog.String("id", scan.ID))

	if s.notifier != nil {
		s.notifier.Upsert(scan.User, []*domain.Scan{scan}, "")
	}
	return scan, nil
}

// List returns scans newest first. An empty user lists every scan.
func (s *ScanService) List(ctx context.Context, user string) ([]*domain.Scan, error) {
	scans, err := s.store.Find(ctx, store.Filter{User: normalize.User(user)}, store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("find scans: %w", err)
	}
	return scans, nil
}

// Latest returns the most recent scan of user.
func (s *ScanService) Latest(ctx context.Context, user string) (*domain.Scan, error) {
	user = normalize.User(user)
	if user == "" {
		return nil, domainerrors.BadRequest("user is required")
	}

	scans, err := s.store.Find(ctx, store.Filter{User: user}, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find latest scan: %w", err)
	}
	if len(scans) == 0 {
		return nil, domainerrors.NotFoundf("no scans for user %q", user)
	}
	return scans[0], nil
}

// Users returns every user that owns at least one scan.
func (s *ScanService) Users(ctx context.Context) ([]string, error) {
	users, err := s.store.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// DeleteAll removes every scan.
func (s *ScanService) DeleteAll(ctx context.Context) (int, error) {
	return s.deleteWhere(ctx, store.Filter{})
}

// DeleteForUser removes all scans of user.
func (s *ScanService) DeleteForUser(ctx context.Context, user string) (int, error) {
	user = normalize.User(user)
	if user == "" {
		return 0, domainerrors.BadRequest("user is required")
	}
	return s.deleteWhere(ctx, store.Filter{User: user})
}

// DeleteExceptLast removes all but the newest n scans. An empty user
// applies to every scan. With direct notify, a single user's watchers get
// the surviving list as one ReplaceAll instead of per-id deletes.
func (s *ScanService) DeleteExceptLast(ctx context.Context, user string, n int) (int, error) {
	if n < 0 {
		return 0, domainerrors.Validationf("n must not be negative, got %d", n)
	}

	filter := store.Filter{User: normalize.User(user)}
	if n > 0 {
		keep, err := s.store.Find(ctx, filter, store.FindOptions{Limit: n})
		if err != nil {
			return 0, fmt.Errorf("find scans to keep: %w", err)
		}
		for _, scan := range keep {
			filter.ExcludeIDs = append(filter.ExcludeIDs, scan.ID)
		}
	}

	if filter.User == "" {
		return s.deleteWhere(ctx, filter)
	}

	res, err := s.deleteQuiet(ctx, filter)
	if err != nil {
		return 0, err
	}
	if s.notifier != nil && res.Count() > 0 {
		if err := s.notifier.ReplaceAll(ctx, filter.User); err != nil {
			s.logger.Warn("replace-all notification failed",
				slog.String("user", filter.User),
				slog.String("error", err.Error()))
		}
	}
	return res.Count(), nil
}

// DeleteOlderThan removes scans dated more than age ago. An empty user
// applies to every scan.
func (s *ScanService) DeleteOlderThan(ctx context.Context, user string, age time.Duration) (int, error) {
	if age < 0 {
		return 0, domainerrors.Validationf("age must not be negative, got %s", age)
	}
	return s.deleteWhere(ctx, store.Filter{
		User:   normalize.User(user),
		Before: s.now().Add(-age),
	})
}

// DeleteMatching removes scans whose id is in ids or whose owner is in users.
func (s *ScanService) DeleteMatching(ctx context.Context, ids, users []string) (int, error) {
	ids = normalize.ScanIDs(ids)
	users = normalize.Users(users)
	if len(ids) == 0 && len(users) == 0 {
		return 0, domainerrors.Validation("at least one of ids or users is required")
	}
	return s.deleteWhere(ctx, store.Filter{IDs: ids, Users: users})
}

// deleteWhere runs one transactional delete. All change events it produces
// share the result's txn id.
func (s *ScanService) deleteWhere(ctx context.Context, filter store.Filter) (int, error) {
	res, err := s.deleteQuiet(ctx, filter)
	if err != nil {
		return 0, err
	}
	if s.notifier != nil && res.Count() > 0 {
		s.notifier.DeleteScans(res.Deleted, res.TxnID)
	}
	return res.Count(), nil
}

// deleteQuiet deletes without direct notification.
func (s *ScanService) deleteQuiet(ctx context.Context, filter store.Filter) (*store.DeleteResult, error) {
	res, err := s.store.DeleteWhere(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("delete scans: %w", err)
	}

	s.logger.Info("scans deleted",
		slog.Int("count", res.Count()),
		slog.String("txn", res.TxnID))
	return res, nil
}

// Search queries the barcode index.
func (s *ScanService) Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error) {
	if s.index == nil {
		return nil, domainerrors.Unavailable("search index is not available")
	}
	params.User = normalize.User(params.User)
	result, err := s.index.Search(ctx, params)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "search failed")
	}
	return result, nil
}

// ReindexIfEmpty fills an empty search index from the store. It reports
// whether a reindex ran.
func (s *ScanService) ReindexIfEmpty(ctx context.Context) (bool, error) {
	if s.index == nil {
		return false, nil
	}

	count, err := s.index.DocumentCount()
	if err != nil {
		return false, fmt.Errorf("count indexed scans: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	scans, err := s.store.Find(ctx, store.Filter{}, store.FindOptions{})
	if err != nil {
		return false, fmt.Errorf("read scans for reindex: %w", err)
	}
	if len(scans) == 0 {
		return false, nil
	}

	start := time.Now()
	if err := s.index.IndexScans(scans); err != nil {
		return false, fmt.Errorf("index scans: %w", err)
	}
	s.logger.Info("search index rebuilt",
		slog.Int("scans", len(scans)),
		slog.Duration("took", time.Since(start)))
	return true, nil
}
