// Package changefeed tails the store's change feed and pushes each change
// to the watchers of the affected user.
package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// State is the watcher's subscription state.
type State int32

// Watcher states.
const (
	Disconnected State = iota
	Subscribing
	Listening
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Subscribing:
		return "subscribing"
	case Listening:
		return "listening"
	default:
		return "unknown"
	}
}

// Feed opens change streams. store.ScanStore satisfies it.
type Feed interface {
	Watch(ctx context.Context, opts store.ChangeFeedOptions) (store.ChangeStream, error)
}

// Sender resolves and reaches a user's connections. *realtime.Registry satisfies it.
type Sender interface {
	ForUser(user string) []*realtime.Connection
	Send(ctx context.Context, msg protocol.Message, conns []*realtime.Connection) int
}

// Spawner runs fan-out tasks. *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context)) bool
}

// Resyncer rebroadcasts full state. *resync.Scheduler satisfies it.
type Resyncer interface {
	ResyncAll(ctx context.Context) error
}

// Indexer mirrors changes into a secondary index.
type Indexer interface {
	ApplyChange(ev *store.ChangeEvent) error
}

// Options tunes the watcher.
type Options struct {
	// Backoff is the wait between a feed failure and the next subscribe.
	Backoff time.Duration
}

// Watcher is the Disconnected → Subscribing → Listening state machine over
// the change feed. It never gives up; only ctx cancellation stops it.
type Watcher struct {
	feed    Feed
	sender  Sender
	spawner Spawner
	logger  *slog.Logger
	backoff time.Duration

	mu       sync.RWMutex
	resyncer Resyncer
	indexer  Indexer

	state atomic.Int32
}

// New creates a Watcher in the Disconnected state.
func New(feed Feed, sender Sender, spawner Spawner, logger *slog.Logger, opts Options) *Watcher {
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Watcher{
		feed:    feed,
		sender:  sender,
		spawner: spawner,
		logger:  logger,
		backoff: opts.Backoff,
	}
}

// SetResyncer sets the full-state rebroadcast run after each recovery.
func (w *Watcher) SetResyncer(r Resyncer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resyncer = r
}

// SetIndexer sets the index fed with every change.
func (w *Watcher) SetIndexer(ix Indexer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indexer = ix
}

// State returns the current state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	if prev := State(w.state.Swap(int32(s))); prev != s {
		w.logger.Debug("change feed state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run drives the state machine until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.setState(Disconnected)

	recovering := false
	for {
		if ctx.Err() != nil {
			return
		}

		w.setState(Subscribing)
		stream, err := w.feed.Watch(ctx, store.ChangeFeedOptions{
			FullDocument:             true,
			FullDocumentBeforeChange: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("change feed unavailable, retrying",
				slog.String("error", (&SubscriptionError{Op: "subscribe", Err: err}).Error()),
				slog.Duration("backoff", w.backoff))
			recovering = true
			w.setState(Disconnected)
			if !sleep(ctx, w.backoff) {
				return
			}
			continue
		}

		w.setState(Listening)
		w.logger.Info("change feed listening")

		if recovering {
			recovering = false
			w.resyncAfterRecovery(ctx)
		}

		err = w.consume(ctx, stream)
		if cerr := stream.Close(); cerr != nil {
			w.logger.Debug("closing change stream failed", slog.String("error", cerr.Error()))
		}
		if ctx.Err() != nil {
			return
		}

		w.logger.Error("change feed interrupted, resubscribing",
			slog.String("error", (&SubscriptionError{Op: "read", Err: err}).Error()),
			slog.Duration("backoff", w.backoff))
		recovering = true
		w.setState(Disconnected)
		if !sleep(ctx, w.backoff) {
			return
		}
	}
}

func (w *Watcher) resyncAfterRecovery(ctx context.Context) {
	w.mu.RLock()
	r := w.resyncer
	w.mu.RUnlock()
	if r == nil {
		return
	}
	if err := r.ResyncAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("resync after feed recovery failed", slog.String("error", err.Error()))
	}
}

// consume processes events in feed order until the stream fails or ctx ends.
func (w *Watcher) consume(ctx context.Context, stream store.ChangeStream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		w.handle(ev)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (w *Watcher) handle(ev *store.ChangeEvent) {
	w.mu.RLock()
	ix := w.indexer
	w.mu.RUnlock()
	if ix != nil {
		if err := ix.ApplyChange(ev); err != nil {
			w.logger.Warn("index update failed", slog.Uint64("seq", ev.Seq), slog.String("error", err.Error()))
		}
	}

	msg, user, err := Translate(ev)
	if err != nil {
		w.logger.Warn("dropping change event", slog.String("error", err.Error()))
		return
	}

	conns := w.sender.ForUser(user)
	if len(conns) == 0 {
		w.logger.Debug("no watchers for change",
			slog.String("user", user),
			slog.String("op", string(ev.Op)))
		return
	}

	w.spawner.Go("fanout", func(ctx context.Context) {
		w.sender.Send(ctx, msg, conns)
	})
}

// sleep waits d or until ctx ends. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
