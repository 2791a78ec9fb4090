package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

func marshalDoc(sc *domain.Scan) (sql.NullString, error) {
	if sc == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalDoc(s sql.NullString) (*domain.Scan, error) {
	if !s.Valid {
		return nil, nil
	}
	var sc domain.Scan
	if err := json.Unmarshal([]byte(s.String), &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// appendChange records ev in change_feed inside tx.
func appendChange(ctx context.Context, tx *sql.Tx, ev store.ChangeEvent) error {
	before, err := marshalDoc(ev.Before)
	if err != nil {
		return fmt.Errorf("marshal before image: %w", err)
	}
	after, err := marshalDoc(ev.After)
	if err != nil {
		return fmt.Errorf("marshal after image: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO change_feed (op, txn_id, before_doc, after_doc, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Op), nullString(ev.TxnID), before, after, formatTime(ev.At))
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

// fetchChanges implements store.FetchFunc over the change_feed table.
func (s *Store) fetchChanges(ctx context.Context, after uint64, limit int) ([]store.ChangeEvent, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, op, txn_id, before_doc, after_doc, recorded_at FROM change_feed
		 WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read change feed: %w", err)
	}
	defer rows.Close()

	var events []store.ChangeEvent
	for rows.Next() {
		var (
			ev         store.ChangeEvent
			op         string
			txnID      sql.NullString
			before     sql.NullString
			afterDoc   sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&ev.Seq, &op, &txnID, &before, &afterDoc, &recordedAt); err != nil {
			return nil, err
		}
		ev.Op = store.OpType(op)
		ev.TxnID = txnID.String
		if ev.Before, err = unmarshalDoc(before); err != nil {
			return nil, fmt.Errorf("decode before image: %w", err)
		}
		if ev.After, err = unmarshalDoc(afterDoc); err != nil {
			return nil, fmt.Errorf("decode after image: %w", err)
		}
		if ev.At, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Watch opens a change stream positioned at the current end of change_feed.
// Writes through this Store wake the stream immediately; writes from other
// processes are picked up on the next poll.
func (s *Store) Watch(ctx context.Context, opts store.ChangeFeedOptions) (store.ChangeStream, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var cursor uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_feed`).Scan(&cursor); err != nil {
		return nil, fmt.Errorf("locate feed position: %w", err)
	}

	notify := s.subscribe()
	s.logger.Debug("change feed subscribed", "cursor", cursor)

	return store.NewTailStream(store.TailConfig{
		Fetch:   s.fetchChanges,
		Opts:    opts,
		Cursor:  cursor,
		Poll:    s.poll,
		Notify:  notify,
		OnClose: func() { s.unsubscribe(notify) },
	}), nil
}

// TrimChangelog deletes change_feed rows recorded before cutoff.
func (s *Store) TrimChangelog(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return 0, store.ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM change_feed WHERE recorded_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("trim changelog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim changelog: %w", err)
	}
	return int(n), nil
}
