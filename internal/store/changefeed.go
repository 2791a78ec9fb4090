package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
)

// feedKey zero-pads the sequence so lexical key order equals numeric order.
func feedKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", feedPrefix, seq)
}

func parseFeedKey(key []byte) (uint64, error) {
	return strconv.ParseUint(string(key[len(feedPrefix):]), 10, 64)
}

// appendChange writes a changelog entry inside txn. Must be called under writeMu.
func (s *Store) appendChange(txn *badger.Txn, ev ChangeEvent) error {
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next feed sequence: %w", err)
	}
	// Sequence starts at zero; reserve zero for "nothing seen yet".
	ev.Seq = next + 1
	return setTxn(txn, feedKey(ev.Seq), ev)
}

// lastFeedSeq returns the sequence of the newest changelog entry, or zero.
func (s *Store) lastFeedSeq() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = []byte(feedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= the seek key.
		it.Seek(append([]byte(feedPrefix), 0xFF))
		if !it.Valid() {
			return nil
		}
		seq, err := parseFeedKey(it.Item().Key())
		if err != nil {
			return err
		}
		last = seq
		return nil
	})
	return last, err
}

// fetchChanges implements FetchFunc over the badger changelog.
func (s *Store) fetchChanges(ctx context.Context, after uint64, limit int) ([]ChangeEvent, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var events []ChangeEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(feedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(feedKey(after + 1)); it.Valid() && len(events) < limit; it.Next() {
			var ev ChangeEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode change event: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Watch opens a change stream positioned at the current end of the changelog.
// Writes committed after Watch returns are delivered in commit order.
func (s *Store) Watch(ctx context.Context, opts ChangeFeedOptions) (ChangeStream, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	cursor, err := s.lastFeedSeq()
	if err != nil {
		return nil, fmt.Errorf("locate feed position: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	notify := make(chan struct{}, 1)
	fail := make(chan error, 1)

	go func() {
		err := s.db.Subscribe(subCtx, func(*badger.KVList) error {
			select {
			case notify <- struct{}{}:
			default:
			}
			return nil
		}, []pb.Match{{Prefix: []byte(feedPrefix)}})

		if subCtx.Err() != nil {
			return
		}
		// The subscription ended without being cancelled: the db closed.
		fail <- ErrFeedInterrupted.WithCause(err)
	}()

	s.logger.Debug("change feed subscribed", "cursor", cursor)

	return NewTailStream(TailConfig{
		Fetch:   s.fetchChanges,
		Opts:    opts,
		Cursor:  cursor,
		Poll:    s.feedPoll,
		Notify:  notify,
		Fail:    fail,
		OnClose: cancel,
	}), nil
}

// TrimChangelog deletes changelog entries recorded before cutoff.
func (s *Store) TrimChangelog(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	var stale [][]byte
	err := s.scanPrefixed(ctx, feedPrefix, func(key, val []byte) error {
		var ev ChangeEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return fmt.Errorf("decode change event: %w", err)
		}
		if ev.At.Before(cutoff) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan changelog: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}

	wb := s.db.NewWriteBatch()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return 0, fmt.Errorf("trim changelog: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("trim changelog: %w", err)
	}
	return len(stale), nil
}

// ChangelogEntries returns every retained changelog entry in order.
// Used by inspection tooling.
func (s *Store) ChangelogEntries(ctx context.Context) ([]ChangeEvent, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var events []ChangeEvent
	err := s.scanPrefixed(ctx, feedPrefix, func(_, val []byte) error {
		var ev ChangeEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read changelog: %w", err)
	}
	return events, nil
}
