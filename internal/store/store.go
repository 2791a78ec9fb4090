package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout.
const (
	scanPrefix = "scan:"
	feedPrefix = "feed:"
	feedSeqKey = "seq:feed"
)

// Options configures the badger store.
type Options struct {
	// InMemory keeps everything in RAM. Path is ignored when set.
	InMemory bool
	// FeedPoll is the fallback re-read interval for change streams.
	FeedPoll time.Duration
}

// Store is the badger-backed ScanStore. Scans and their changelog entries
// are written in the same transaction, so the change feed never observes
// a write that did not commit.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	seq    *badger.Sequence

	// writeMu serializes writers so changelog sequence numbers commit in order.
	writeMu sync.Mutex
	closed  atomic.Bool

	feedPoll time.Duration
}

var _ ScanStore = (*Store)(nil)

// New opens (or creates) a store at path.
func New(path string, logger *slog.Logger, opt Options) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if opt.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(feedSeqKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open feed sequence: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opt.FeedPoll <= 0 {
		opt.FeedPoll = time.Second
	}

	logger.Info("Badger database opened successfully", "path", path, "in_memory", opt.InMemory)

	return &Store{
		db:       db,
		logger:   logger,
		seq:      seq,
		feedPoll: opt.FeedPoll,
	}, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("Closing database connection")

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release feed sequence", "error", err)
	}
	return s.db.Close()
}

// Ping verifies the database is readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(feedSeqKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Helper methods for database operations.

// get retrieves a value by key.
func (s *Store) get(key []byte, dest any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
}

// setTxn stores a JSON value inside an open transaction.
func setTxn(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set(key, data)
}

// scanPrefixed calls fn with the raw value of every key under prefix.
func (s *Store) scanPrefixed(ctx context.Context, prefix string, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
