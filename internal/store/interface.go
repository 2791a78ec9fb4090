// Package store defines scan persistence and the change feed the live sync
// layer tails.
package store

import (
	"context"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

// ScanStore is the document store boundary. Implemented by the badger
// Store in this package and by sqlite.Store.
type ScanStore interface {
	// Find returns matching scans, newest first.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]*domain.Scan, error)
	Get(ctx context.Context, id string) (*domain.Scan, error)
	// Users returns the distinct owners of stored scans, sorted.
	Users(ctx context.Context) ([]string, error)
	// Insert stores a scan, assigning ID and Date when they are empty.
	Insert(ctx context.Context, scan *domain.Scan) error
	// InsertMany stores scans in one transaction; their change events share a txn id.
	InsertMany(ctx context.Context, scans []*domain.Scan) (string, error)
	// DeleteWhere removes every matching scan in one transaction.
	DeleteWhere(ctx context.Context, filter Filter) (*DeleteResult, error)

	// Watch opens a change feed positioned at the current end of the log.
	Watch(ctx context.Context, opts ChangeFeedOptions) (ChangeStream, error)
	// TrimChangelog drops feed entries recorded before cutoff.
	TrimChangelog(ctx context.Context, cutoff time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// FindOptions controls result size.
type FindOptions struct {
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// DeleteResult describes one DeleteWhere call.
type DeleteResult struct {
	Deleted []*domain.Scan
	// TxnID is shared by every change event the delete produced.
	TxnID string
}

// Count returns the number of deleted scans.
func (r *DeleteResult) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Deleted)
}

// OpType is the kind of mutation a ChangeEvent describes.
type OpType string

// Change operations.
const (
	OpInsert  OpType = "insert"
	OpUpdate  OpType = "update"
	OpReplace OpType = "replace"
	OpDelete  OpType = "delete"
)

// ChangeEvent is one entry of the change feed. Before is the pre-image and
// is always present for deletes; After is the post-image for insert, update
// and replace.
type ChangeEvent struct {
	Seq    uint64       `json:"seq"`
	Op     OpType       `json:"op"`
	TxnID  string       `json:"txn,omitempty"`
	Before *domain.Scan `json:"before,omitempty"`
	After  *domain.Scan `json:"after,omitempty"`
	At     time.Time    `json:"at"`
}

// ChangeFeedOptions selects which document images a stream carries.
type ChangeFeedOptions struct {
	FullDocument             bool
	FullDocumentBeforeChange bool
}

// ChangeStream iterates change events in commit order.
// Next blocks until an event is available, the context ends, or the
// underlying subscription fails.
type ChangeStream interface {
	Next(ctx context.Context) (*ChangeEvent, error)
	Close() error
}

// Project strips the images the subscriber did not ask for.
func (o ChangeFeedOptions) Project(ev ChangeEvent) *ChangeEvent {
	if !o.FullDocument {
		ev.After = nil
	}
	if !o.FullDocumentBeforeChange {
		ev.Before = nil
	}
	return &ev
}
