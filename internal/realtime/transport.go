// Package realtime tracks live watcher connections and fans sync messages
// out to them.
package realtime

import "context"

// Transport is one bidirectional message channel to a watcher.
// Implementations must be safe for one concurrent reader alongside
// concurrent writers, and Close must be idempotent.
type Transport interface {
	SendText(ctx context.Context, text string) error
	SendJSON(ctx context.Context, v any) error
	// Ping performs a transport-level keepalive round trip.
	Ping(ctx context.Context) error
	// ReadText blocks for the next inbound text message.
	ReadText(ctx context.Context) (string, error)
	Close() error
	// Closed reports whether the transport is known to be closed.
	Closed() bool
}
