package store

import (
	"context"
	"sync"
	"time"
)

// FetchFunc reads up to limit change events with a sequence greater than after,
// in sequence order.
type FetchFunc func(ctx context.Context, after uint64, limit int) ([]ChangeEvent, error)

// TailStream is a ChangeStream that follows an append-only changelog.
// It re-reads the log whenever it is notified of a write, and at least once
// per poll interval so a missed notification only delays delivery.
type TailStream struct {
	fetch  FetchFunc
	opts   ChangeFeedOptions
	poll   time.Duration
	notify <-chan struct{}
	fail   <-chan error

	cursor uint64
	buf    []ChangeEvent

	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// TailConfig configures a TailStream. Cursor is the last sequence already
// seen. Notify wakes the stream after a write, Fail delivers a terminal
// subscription error and OnClose runs once on Close; all three are optional.
type TailConfig struct {
	Fetch   FetchFunc
	Opts    ChangeFeedOptions
	Cursor  uint64
	Poll    time.Duration
	Notify  <-chan struct{}
	Fail    <-chan error
	OnClose func()
}

const tailBatchSize = 256

// NewTailStream creates a stream positioned after cfg.Cursor.
func NewTailStream(cfg TailConfig) *TailStream {
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	return &TailStream{
		fetch:   cfg.Fetch,
		opts:    cfg.Opts,
		poll:    cfg.Poll,
		notify:  cfg.Notify,
		fail:    cfg.Fail,
		cursor:  cfg.Cursor,
		closed:  make(chan struct{}),
		onClose: cfg.OnClose,
	}
}

// Next returns the next change event.
func (s *TailStream) Next(ctx context.Context) (*ChangeEvent, error) {
	for {
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			return s.opts.Project(ev), nil
		}

		select {
		case <-s.closed:
			return nil, ErrStreamClosed
		case err := <-s.fail:
			return nil, err
		default:
		}

		events, err := s.fetch(ctx, s.cursor, tailBatchSize)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			s.cursor = events[len(events)-1].Seq
			s.buf = events
			continue
		}

		timer := time.NewTimer(s.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.closed:
			timer.Stop()
			return nil, ErrStreamClosed
		case err := <-s.fail:
			timer.Stop()
			return nil, err
		case <-s.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Cursor returns the sequence of the last event fetched from the log.
func (s *TailStream) Cursor() uint64 {
	return s.cursor
}

// Close stops the stream. Safe to call more than once.
func (s *TailStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
