package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/id"
)

func scanKey(scanID string) []byte {
	return []byte(scanPrefix + scanID)
}

// Get returns a single scan.
func (s *Store) Get(ctx context.Context, scanID string) (*domain.Scan, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var scan domain.Scan
	if err := s.get(scanKey(scanID), &scan); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound.WithMessage(fmt.Sprintf("scan %s not found", scanID))
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return &scan, nil
}

// Find returns matching scans, newest first.
func (s *Store) Find(ctx context.Context, filter Filter, opts FindOptions) ([]*domain.Scan, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var scans []*domain.Scan
	err := s.scanPrefixed(ctx, scanPrefix, func(_, val []byte) error {
		var scan domain.Scan
		if err := json.Unmarshal(val, &scan); err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		if filter.Matches(&scan) {
			scans = append(scans, &scan)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scans: %w", err)
	}

	return ApplyFindOptions(scans, opts), nil
}

// Users returns the distinct owners of stored scans, sorted.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := s.scanPrefixed(ctx, scanPrefix, func(_, val []byte) error {
		var scan domain.Scan
		if err := json.Unmarshal(val, &scan); err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		if scan.HasUser() {
			seen[scan.User] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

// prepareScan fills in the store-assigned fields.
func prepareScan(scan *domain.Scan, now time.Time) error {
	if scan == nil || scan.Barcode == "" {
		return ErrInvalidInput.WithMessage("barcode is required")
	}
	if scan.ID == "" {
		scanID, err := id.NewScanID()
		if err != nil {
			return err
		}
		scan.ID = scanID
	}
	if scan.Date.IsZero() {
		scan.Date = now
	}
	scan.Date = scan.Date.UTC()
	return nil
}

// Insert stores a single scan. The resulting change event has no txn id.
func (s *Store) Insert(ctx context.Context, scan *domain.Scan) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := prepareScan(scan, time.Now()); err != nil {
		return err
	}

	return s.write(func(txn *badger.Txn, now time.Time) error {
		if _, err := txn.Get(scanKey(scan.ID)); err == nil {
			return ErrInvalidInput.WithMessage("scan " + scan.ID + " already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setTxn(txn, scanKey(scan.ID), scan); err != nil {
			return err
		}
		return s.appendChange(txn, ChangeEvent{Op: OpInsert, After: scan.Clone(), At: now})
	})
}

// InsertMany stores scans in one transaction and returns the shared txn id.
func (s *Store) InsertMany(ctx context.Context, scans []*domain.Scan) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	if len(scans) == 0 {
		return "", nil
	}

	now := time.Now()
	for _, scan := range scans {
		if err := prepareScan(scan, now); err != nil {
			return "", err
		}
	}

	txnID, err := id.Generate("txn")
	if err != nil {
		return "", err
	}

	err = s.write(func(txn *badger.Txn, now time.Time) error {
		for _, scan := range scans {
			if err := setTxn(txn, scanKey(scan.ID), scan); err != nil {
				return err
			}
			if err := s.appendChange(txn, ChangeEvent{Op: OpInsert, TxnID: txnID, After: scan.Clone(), At: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return txnID, nil
}

// DeleteWhere removes every matching scan in one transaction. All resulting
// change events share the returned txn id.
func (s *Store) DeleteWhere(ctx context.Context, filter Filter) (*DeleteResult, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	txnID, err := id.Generate("txn")
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{TxnID: txnID}
	err = s.write(func(txn *badger.Txn, now time.Time) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(scanPrefix)
		it := txn.NewIterator(opts)
		var victims []*domain.Scan
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				it.Close()
				return err
			}
			var scan domain.Scan
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &scan)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decode scan: %w", err)
			}
			if filter.Matches(&scan) {
				victims = append(victims, &scan)
			}
		}
		it.Close()

		for _, scan := range victims {
			if err := txn.Delete(scanKey(scan.ID)); err != nil {
				return err
			}
			if err := s.appendChange(txn, ChangeEvent{Op: OpDelete, TxnID: txnID, Before: scan, At: now}); err != nil {
				return err
			}
		}
		result.Deleted = victims
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return nil, ErrInvalidInput.WithMessage("delete matches too many scans for one transaction").WithCause(err)
		}
		return nil, fmt.Errorf("delete scans: %w", err)
	}

	domain.SortNewestFirst(result.Deleted)
	if result.Count() > 0 {
		s.logger.Debug("scans deleted", "count", result.Count(), "txn", txnID)
	}
	return result, nil
}

// write runs fn in a read-write transaction while holding the writer lock.
func (s *Store) write(fn func(txn *badger.Txn, now time.Time) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(txn, time.Now().UTC())
	})
}
