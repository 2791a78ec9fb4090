package service

import (
	"context"
	"log/slog"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
)

// Sender is the subset of the connection registry the broadcaster needs.
type Sender interface {
	ForUser(user string) []*realtime.Connection
	Send(ctx context.Context, msg protocol.Message, conns []*realtime.Connection) int
}

// Spawner runs fan-out tasks.
type Spawner interface {
	Go(name string, fn func(ctx context.Context)) bool
}

// Resyncer sends one user a full snapshot.
type Resyncer interface {
	ResyncUser(ctx context.Context, user string) error
}

// Broadcaster pushes sync messages to a user's watchers straight from the
// request path, without waiting for the change feed. Clients treat these as
// idempotent, so overlapping with the feed is harmless.
type Broadcaster struct {
	sender   Sender
	spawner  Spawner
	resyncer Resyncer
	logger   *slog.Logger
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(sender Sender, spawner Spawner, resyncer Resyncer, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		sender:   sender,
		spawner:  spawner,
		resyncer: resyncer,
		logger:   logger,
	}
}

// ReplaceAll sends user's watchers their complete scan list.
func (b *Broadcaster) ReplaceAll(ctx context.Context, user string) error {
	return b.resyncer.ResyncUser(ctx, user)
}

// Upsert sends user's watchers the given scans.
func (b *Broadcaster) Upsert(user string, scans []*domain.Scan, txn string) bool {
	if len(scans) == 0 {
		return false
	}
	return b.dispatch(user, protocol.NewUpsert(scans, txn))
}

// Delete tells user's watchers which scans are gone. A single id is sent as
// DeleteOne, several as one DeleteMany.
func (b *Broadcaster) Delete(user string, ids []string, txn string) bool {
	switch len(ids) {
	case 0:
		return false
	case 1:
		return b.dispatch(user, protocol.NewDeleteOne(ids[0], txn))
	default:
		return b.dispatch(user, protocol.NewDeleteMany(ids, txn))
	}
}

// DeleteScans groups deleted scans by owner and sends one message per user.
// Unassigned scans have no watchers and are skipped.
func (b *Broadcaster) DeleteScans(deleted []*domain.Scan, txn string) int {
	sent := 0
	for user, scans := range domain.GroupByUser(deleted) {
		ids := make([]string, len(scans))
		for i, s := range scans {
			ids[i] = s.ID
		}
		if b.Delete(user, ids, txn) {
			sent++
		}
	}
	return sent
}

func (b *Broadcaster) dispatch(user string, msg protocol.Message) bool {
	if user == "" {
		return false
	}
	conns := b.sender.ForUser(user)
	if len(conns) == 0 {
		return false
	}

	b.logger.Debug("direct notify",
		slog.String("user", user),
		slog.String("type", string(msg.MessageType())),
		slog.Int("connections", len(conns)))

	return b.spawner.Go("direct-notify", func(ctx context.Context) {
		b.sender.Send(ctx, msg, conns)
	})
}
