package realtime

import (
	"context"
	"time"
)

// Connection is one attached watcher. It belongs to exactly one user.
type Connection struct {
	ID          string
	User        string
	ConnectedAt time.Time

	transport Transport
	cancel    context.CancelFunc
}

// Closed reports whether the underlying transport has closed.
func (c *Connection) Closed() bool {
	return c.transport.Closed()
}
