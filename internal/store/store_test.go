package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"), nil, Options{FeedPoll: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, stream ChangeStream) *ChangeEvent {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestInsert_AssignsIDAndDate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scan := &domain.Scan{Barcode: "4006381333931", User: "alice"}
	require.NoError(t, s.Insert(ctx, scan))

	assert.Len(t, scan.ID, 32)
	assert.False(t, scan.Date.IsZero())

	got, err := s.Get(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, "4006381333931", got.Barcode)
	assert.Equal(t, "alice", got.User)
}

func TestInsert_RejectsEmptyBarcode(t *testing.T) {
	s := setupTestStore(t)

	err := s.Insert(context.Background(), &domain.Scan{User: "alice"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFind_FiltersAndSorts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 12, 14, 0, 0, 0, time.UTC)

	for i, user := range []string{"alice", "bob", "alice", ""} {
		require.NoError(t, s.Insert(ctx, &domain.Scan{
			Barcode: "code",
			User:    user,
			Date:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.Find(ctx, Filter{}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, !all[i].Date.After(all[i-1].Date), "results must be newest first")
	}

	alice, err := s.Find(ctx, Filter{User: "alice"}, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	latest, err := s.Find(ctx, Filter{User: "alice"}, FindOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].Date.Equal(base.Add(2*time.Minute)))

	older, err := s.Find(ctx, Filter{Before: base.Add(90 * time.Second)}, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, older, 2)
}

func TestUsers_Distinct(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, user := range []string{"carol", "alice", "carol", ""} {
		require.NoError(t, s.Insert(ctx, &domain.Scan{Barcode: "x", User: user}))
	}

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, users)
}

func TestDeleteWhere_IDsOrUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := &domain.Scan{Barcode: "a", User: "alice"}
	b := &domain.Scan{Barcode: "b", User: "bob"}
	c := &domain.Scan{Barcode: "c", User: "carol"}
	for _, scan := range []*domain.Scan{a, b, c} {
		require.NoError(t, s.Insert(ctx, scan))
	}

	res, err := s.DeleteWhere(ctx, Filter{IDs: []string{a.ID}, Users: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count())
	assert.NotEmpty(t, res.TxnID)

	remaining, err := s.Find(ctx, Filter{}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, c.ID, remaining[0].ID)
}

func TestWatch_DeliversInsertAndDeleteWithImages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Writes before Watch are not replayed.
	require.NoError(t, s.Insert(ctx, &domain.Scan{Barcode: "before", User: "alice"}))

	stream, err := s.Watch(ctx, ChangeFeedOptions{FullDocument: true, FullDocumentBeforeChange: true})
	require.NoError(t, err)
	defer stream.Close()

	scan := &domain.Scan{Barcode: "X", User: "alice"}
	require.NoError(t, s.Insert(ctx, scan))

	ev := nextEvent(t, stream)
	assert.Equal(t, OpInsert, ev.Op)
	require.NotNil(t, ev.After)
	assert.Equal(t, scan.ID, ev.After.ID)
	assert.Empty(t, ev.TxnID)

	_, err = s.DeleteWhere(ctx, Filter{IDs: []string{scan.ID}})
	require.NoError(t, err)

	ev = nextEvent(t, stream)
	assert.Equal(t, OpDelete, ev.Op)
	assert.Nil(t, ev.After)
	require.NotNil(t, ev.Before)
	assert.Equal(t, "alice", ev.Before.User)
	assert.NotEmpty(t, ev.TxnID)
}

func TestWatch_SharedTxnForBulkDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, s.Insert(ctx, &domain.Scan{Barcode: "x", User: "alice"}))
	}

	stream, err := s.Watch(ctx, ChangeFeedOptions{FullDocument: true, FullDocumentBeforeChange: true})
	require.NoError(t, err)
	defer stream.Close()

	res, err := s.DeleteWhere(ctx, Filter{User: "alice"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Count())

	var prevSeq uint64
	for range 3 {
		ev := nextEvent(t, stream)
		assert.Equal(t, res.TxnID, ev.TxnID)
		assert.Greater(t, ev.Seq, prevSeq)
		prevSeq = ev.Seq
	}
}

func TestWatch_OmitsBeforeImageWhenNotRequested(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scan := &domain.Scan{Barcode: "x", User: "alice"}
	require.NoError(t, s.Insert(ctx, scan))

	stream, err := s.Watch(ctx, ChangeFeedOptions{FullDocument: true})
	require.NoError(t, err)
	defer stream.Close()

	_, err = s.DeleteWhere(ctx, Filter{IDs: []string{scan.ID}})
	require.NoError(t, err)

	ev := nextEvent(t, stream)
	assert.Equal(t, OpDelete, ev.Op)
	assert.Nil(t, ev.Before)
}

func TestWatch_ClosedStream(t *testing.T) {
	s := setupTestStore(t)

	stream, err := s.Watch(context.Background(), ChangeFeedOptions{})
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWatch_StoreClosedFailsStream(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "db"), nil, Options{FeedPoll: 20 * time.Millisecond})
	require.NoError(t, err)

	stream, err := s.Watch(context.Background(), ChangeFeedOptions{})
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, s.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = stream.Next(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Watch(context.Background(), ChangeFeedOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTrimChangelog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for range 2 {
		require.NoError(t, s.Insert(ctx, &domain.Scan{Barcode: "x", User: "alice"}))
	}

	entries, err := s.ChangelogEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	n, err := s.TrimChangelog(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err = s.ChangelogEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Scans themselves are untouched.
	scans, err := s.Find(ctx, Filter{}, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, scans, 2)
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now()
	scan := &domain.Scan{ID: "a1", User: "alice", Date: now}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"zero", Filter{}, true},
		{"user match", Filter{User: "alice"}, true},
		{"user mismatch", Filter{User: "bob"}, false},
		{"id or user by id", Filter{IDs: []string{"a1"}, Users: []string{"bob"}}, true},
		{"id or user by user", Filter{IDs: []string{"zz"}, Users: []string{"alice"}}, true},
		{"id or user neither", Filter{IDs: []string{"zz"}, Users: []string{"bob"}}, false},
		{"excluded", Filter{ExcludeIDs: []string{"a1"}}, false},
		{"before later", Filter{Before: now.Add(time.Second)}, true},
		{"before same instant", Filter{Before: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(scan))
		})
	}
}
