package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/id"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// scanColumns must match the scan order in scanScan.
const scanColumns = `id, barcode, user_name, scanned_at`

// scanScan scans a sql.Row (or sql.Rows via its Scan method) into a domain.Scan.
func scanScan(scanner interface{ Scan(dest ...any) error }) (*domain.Scan, error) {
	var (
		sc        domain.Scan
		user      sql.NullString
		scannedAt string
	)
	if err := scanner.Scan(&sc.ID, &sc.Barcode, &user, &scannedAt); err != nil {
		return nil, err
	}
	sc.User = user.String

	t, err := parseTime(scannedAt)
	if err != nil {
		return nil, fmt.Errorf("parse scanned_at: %w", err)
	}
	sc.Date = t
	return &sc, nil
}

// whereClause translates a store.Filter into SQL.
func whereClause(f store.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.User != "" {
		conds = append(conds, "user_name = ?")
		args = append(args, f.User)
	}

	if len(f.IDs) > 0 || len(f.Users) > 0 {
		var alts []string
		if len(f.IDs) > 0 {
			alts = append(alts, "id IN ("+placeholders(len(f.IDs))+")")
			for _, v := range f.IDs {
				args = append(args, v)
			}
		}
		if len(f.Users) > 0 {
			alts = append(alts, "user_name IN ("+placeholders(len(f.Users))+")")
			for _, v := range f.Users {
				args = append(args, v)
			}
		}
		conds = append(conds, "("+strings.Join(alts, " OR ")+")")
	}

	if len(f.ExcludeIDs) > 0 {
		conds = append(conds, "id NOT IN ("+placeholders(len(f.ExcludeIDs))+")")
		for _, v := range f.ExcludeIDs {
			args = append(args, v)
		}
	}

	if !f.Before.IsZero() {
		conds = append(conds, "scanned_at < ?")
		args = append(args, formatTime(f.Before))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Get returns a single scan.
func (s *Store) Get(ctx context.Context, scanID string) (*domain.Scan, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, scanID)
	sc, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("scan %s not found", scanID))
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return sc, nil
}

// Find returns matching scans, newest first.
func (s *Store) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]*domain.Scan, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	where, args := whereClause(filter)
	query := `SELECT ` + scanColumns + ` FROM scans` + where + ` ORDER BY scanned_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find scans: %w", err)
	}
	defer rows.Close()

	var scans []*domain.Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("find scans: %w", err)
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// Users returns the distinct owners of stored scans, sorted.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_name FROM scans WHERE user_name IS NOT NULL AND user_name <> '' ORDER BY user_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func prepareScan(sc *domain.Scan, now time.Time) error {
	if sc == nil || sc.Barcode == "" {
		return store.ErrInvalidInput.WithMessage("barcode is required")
	}
	if sc.ID == "" {
		scanID, err := id.NewScanID()
		if err != nil {
			return err
		}
		sc.ID = scanID
	}
	if sc.Date.IsZero() {
		sc.Date = now
	}
	sc.Date = sc.Date.UTC()
	return nil
}

func insertScan(ctx context.Context, tx *sql.Tx, sc *domain.Scan) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO scans (`+scanColumns+`) VALUES (?, ?, ?, ?)`,
		sc.ID, sc.Barcode, nullString(sc.User), formatTime(sc.Date))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrInvalidInput.WithMessage("scan " + sc.ID + " already exists")
	}
	return err
}

// Insert stores a single scan. The resulting change event has no txn id.
func (s *Store) Insert(ctx context.Context, sc *domain.Scan) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := prepareScan(sc, time.Now()); err != nil {
		return err
	}

	return s.write(ctx, func(tx *sql.Tx, now time.Time) error {
		if err := insertScan(ctx, tx, sc); err != nil {
			return err
		}
		return appendChange(ctx, tx, store.ChangeEvent{Op: store.OpInsert, After: sc.Clone(), At: now})
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
	for _, sc := range scans {
		if err := prepareScan(sc, now); err != nil {
			return "", err
		}
	}

	txnID, err := id.Generate("txn")
	if err != nil {
		return "", err
	}

	err = s.write(ctx, func(tx *sql.Tx, now time.Time) error {
		for _, sc := range scans {
			if err := insertScan(ctx, tx, sc); err != nil {
				return err
			}
			if err := appendChange(ctx, tx, store.ChangeEvent{Op: store.OpInsert, TxnID: txnID, After: sc.Clone(), At: now}); err != nil {
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
func (s *Store) DeleteWhere(ctx context.Context, filter store.Filter) (*store.DeleteResult, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	txnID, err := id.Generate("txn")
	if err != nil {
		return nil, err
	}

	result := &store.DeleteResult{TxnID: txnID}
	err = s.write(ctx, func(tx *sql.Tx, now time.Time) error {
		where, args := whereClause(filter)
		rows, err := tx.QueryContext(ctx,
			`SELECT `+scanColumns+` FROM scans`+where+` ORDER BY scanned_at DESC, id DESC`, args...)
		if err != nil {
			return err
		}
		var victims []*domain.Scan
		for rows.Next() {
			sc, err := scanScan(rows)
			if err != nil {
				rows.Close()
				return err
			}
			victims = append(victims, sc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, sc := range victims {
			if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, sc.ID); err != nil {
				return err
			}
			if err := appendChange(ctx, tx, store.ChangeEvent{Op: store.OpDelete, TxnID: txnID, Before: sc, At: now}); err != nil {
				return err
			}
		}
		result.Deleted = victims
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete scans: %w", err)
	}

	if result.Count() > 0 {
		s.logger.Debug("scans deleted", "count", result.Count(), "txn", txnID)
	}
	return result, nil
}
