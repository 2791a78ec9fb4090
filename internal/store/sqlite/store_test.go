package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(dbPath, logger, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func nextEvent(t *testing.T, stream store.ChangeStream) *store.ChangeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return ev
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	// Verify WAL mode is set.
	var journalMode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	// Verify tables exist.
	for _, table := range []string{"scans", "change_feed"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestOpenClose(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := Open(dbPath, logger, 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Re-open should work (schema is idempotent).
	s2, err := Open(dbPath, logger, 0)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	defer s2.Close()
}

func TestInsertAndGetScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &domain.Scan{Barcode: "4006381333931", User: "alice"}
	if err := s.Insert(ctx, sc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if sc.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	got, err := s.Get(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Barcode != sc.Barcode || got.User != "alice" {
		t.Errorf("got %+v", got)
	}
	if !got.Date.Equal(sc.Date) {
		t.Errorf("date: got %v, want %v", got.Date, sc.Date)
	}

	if err := s.Insert(ctx, &domain.Scan{ID: sc.ID, Barcode: "dup"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("duplicate insert: expected ErrInvalidInput, got %v", err)
	}
}

func TestGetScan_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindScans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 12, 14, 0, 0, 0, time.UTC)

	scans := []*domain.Scan{
		{Barcode: "a1", User: "alice", Date: base},
		{Barcode: "b1", User: "bob", Date: base.Add(time.Minute)},
		{Barcode: "a2", User: "alice", Date: base.Add(2 * time.Minute)},
		{Barcode: "u1", Date: base.Add(3 * time.Minute)},
	}
	if _, err := s.InsertMany(ctx, scans); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	all, err := s.Find(ctx, store.Filter{}, store.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(all) != 4 || all[0].Barcode != "u1" || all[3].Barcode != "a1" {
		t.Errorf("unexpected order: %+v", all)
	}

	latest, err := s.Find(ctx, store.Filter{User: "alice"}, store.FindOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Find latest: %v", err)
	}
	if len(latest) != 1 || latest[0].Barcode != "a2" {
		t.Errorf("latest: %+v", latest)
	}

	except, err := s.Find(ctx, store.Filter{User: "alice", ExcludeIDs: []string{latest[0].ID}}, store.FindOptions{})
	if err != nil {
		t.Fatalf("Find except: %v", err)
	}
	if len(except) != 1 || except[0].Barcode != "a1" {
		t.Errorf("except: %+v", except)
	}

	older, err := s.Find(ctx, store.Filter{Before: base.Add(90 * time.Second)}, store.FindOptions{})
	if err != nil {
		t.Fatalf("Find older: %v", err)
	}
	if len(older) != 2 {
		t.Errorf("older: expected 2, got %d", len(older))
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("users: %v", users)
	}
}

func TestDeleteWhere(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &domain.Scan{Barcode: "a", User: "alice"}
	b := &domain.Scan{Barcode: "b", User: "bob"}
	c := &domain.Scan{Barcode: "c", User: "carol"}
	for _, sc := range []*domain.Scan{a, b, c} {
		if err := s.Insert(ctx, sc); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	res, err := s.DeleteWhere(ctx, store.Filter{IDs: []string{a.ID}, Users: []string{"bob"}})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if res.Count() != 2 {
		t.Errorf("expected 2 deleted, got %d", res.Count())
	}
	if res.TxnID == "" {
		t.Error("expected txn id")
	}

	remaining, err := s.Find(ctx, store.Filter{}, store.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != c.ID {
		t.Errorf("remaining: %+v", remaining)
	}
}

func TestWatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &domain.Scan{Barcode: "old", User: "alice"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stream, err := s.Watch(ctx, store.ChangeFeedOptions{FullDocument: true, FullDocumentBeforeChange: true})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stream.Close()

	sc := &domain.Scan{Barcode: "X", User: "alice"}
	if err := s.Insert(ctx, sc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ev := nextEvent(t, stream)
	if ev.Op != store.OpInsert || ev.After == nil || ev.After.ID != sc.ID {
		t.Fatalf("unexpected insert event: %+v", ev)
	}
	if ev.TxnID != "" {
		t.Errorf("single insert should carry no txn id, got %q", ev.TxnID)
	}

	res, err := s.DeleteWhere(ctx, store.Filter{User: "alice"})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}

	for range 2 {
		ev := nextEvent(t, stream)
		if ev.Op != store.OpDelete {
			t.Errorf("expected delete, got %s", ev.Op)
		}
		if ev.Before == nil || ev.Before.User != "alice" {
			t.Errorf("expected before image for alice, got %+v", ev.Before)
		}
		if ev.TxnID != res.TxnID {
			t.Errorf("txn: got %q, want %q", ev.TxnID, res.TxnID)
		}
	}
}

func TestWatch_AfterClose(t *testing.T) {
	s := newTestStore(t)

	stream, err := s.Watch(context.Background(), store.ChangeFeedOptions{})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	stream.Close()

	if _, err := stream.Next(context.Background()); !errors.Is(err, store.ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
	if len(s.subs) != 0 {
		t.Errorf("expected subscription to be released, have %d", len(s.subs))
	}
}

func TestTrimChangelog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &domain.Scan{Barcode: "x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.TrimChangelog(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("TrimChangelog: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing trimmed, got %d", n)
	}

	n, err = s.TrimChangelog(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("TrimChangelog: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 trimmed, got %d", n)
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	if _, err := s.Find(context.Background(), store.Filter{}, store.FindOptions{}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Insert(context.Background(), &domain.Scan{Barcode: "x"}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMarshalDoc(t *testing.T) {
	empty, err := marshalDoc(nil)
	if err != nil {
		t.Fatalf("marshal nil: %v", err)
	}
	if empty.Valid {
		t.Error("nil image should be stored as NULL")
	}
	if got, err := unmarshalDoc(empty); err != nil || got != nil {
		t.Errorf("unmarshal NULL: got %+v, %v", got, err)
	}

	sc := &domain.Scan{ID: "abc", Barcode: "4006381333931", User: "alice", Date: time.Date(2024, 7, 12, 14, 0, 0, 0, time.UTC)}
	doc, err := marshalDoc(sc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !doc.Valid || doc.String == "" {
		t.Fatalf("expected a JSON document, got %+v", doc)
	}

	got, err := unmarshalDoc(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != sc.ID || got.Barcode != sc.Barcode || got.User != sc.User || !got.Date.Equal(sc.Date) {
		t.Errorf("round trip: got %+v, want %+v", got, sc)
	}
}
