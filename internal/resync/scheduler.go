// Package resync periodically pushes each watched user's full scan list so
// clients converge even if a change event was missed.
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// Reader is the read path into the store.
type Reader interface {
	Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]*domain.Scan, error)
}

// Sender is the subset of the registry the scheduler needs.
type Sender interface {
	Users() []string
	ForUser(user string) []*realtime.Connection
	Send(ctx context.Context, msg protocol.Message, conns []*realtime.Connection) int
}

// Spawner runs fan-out tasks.
type Spawner interface {
	Go(name string, fn func(ctx context.Context)) bool
}

// Options tunes the scheduler.
type Options struct {
	// Interval between periodic resyncs.
	Interval time.Duration
	// InitialDelay before a newly attached connection gets its first snapshot.
	InitialDelay time.Duration
}

// Scheduler broadcasts ReplaceAll snapshots.
type Scheduler struct {
	reader  Reader
	sender  Sender
	spawner Spawner
	logger  *slog.Logger
	opts    Options
}

// New creates a Scheduler.
func New(reader Reader, sender Sender, spawner Spawner, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 300 * time.Second
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 1500 * time.Millisecond
	}
	return &Scheduler{
		reader:  reader,
		sender:  sender,
		spawner: spawner,
		logger:  logger,
		opts:    opts,
	}
}

// Run resyncs every interval until ctx is cancelled. Read errors are logged
// and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("resync scheduler started", slog.Duration("interval", s.opts.Interval))

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("resync scheduler stopped")
			return
		case <-ticker.C:
			if err := s.ResyncAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic resync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ResyncAll reads the store once and sends every watched user a ReplaceAll.
// A watched user without scans gets an empty list.
func (s *Scheduler) ResyncAll(ctx context.Context) error {
	users := s.sender.Users()
	if len(users) == 0 {
		return nil
	}

	scans, err := s.reader.Find(ctx, store.Filter{Users: users}, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("read scans for resync: %w", err)
	}

	grouped := domain.GroupByUser(scans)
	sent := 0
	for _, user := range users {
		if s.dispatch(user, grouped[user]) {
			sent++
		}
	}

	s.logger.Debug("resync dispatched", slog.Int("users", sent), slog.Int("scans", len(scans)))
	return nil
}

// ResyncUser sends one user's connections a ReplaceAll.
func (s *Scheduler) ResyncUser(ctx context.Context, user string) error {
	if len(s.sender.ForUser(user)) == 0 {
		return nil
	}

	scans, err := s.reader.Find(ctx, store.Filter{User: user}, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("read scans for %s: %w", user, err)
	}
	s.dispatch(user, scans)
	return nil
}

// ScheduleInitial sends user a snapshot after the initial delay.
func (s *Scheduler) ScheduleInitial(user string) {
	s.spawner.Go("initial-resync", func(ctx context.Context) {
		t := time.NewTimer(s.opts.InitialDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if err := s.ResyncUser(ctx, user); err != nil && ctx.Err() == nil {
			s.logger.Error("initial resync failed",
				slog.String("user", user),
				slog.String("error", err.Error()))
		}
	})
}

// OnAttach is a realtime.AttachHook that schedules the initial snapshot.
func (s *Scheduler) OnAttach(conn *realtime.Connection) {
	s.ScheduleInitial(conn.User)
}

func (s *Scheduler) dispatch(user string, scans []*domain.Scan) bool {
	conns := s.sender.ForUser(user)
	if len(conns) == 0 {
		return false
	}
	msg := protocol.NewReplaceAll(scans, "")
	return s.spawner.Go("resync", func(ctx context.Context) {
		s.sender.Send(ctx, msg, conns)
	})
}
