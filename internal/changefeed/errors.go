package changefeed

import (
	"fmt"

	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// SubscriptionError is a failure to open or read the change feed.
// The watcher retries it after a backoff.
type SubscriptionError struct {
	Op  string // "subscribe" or "read"
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("change feed %s: %v", e.Op, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ResolutionError is an event the watcher cannot route to a user.
// Such events are logged and dropped.
type ResolutionError struct {
	Seq    uint64
	Op     store.OpType
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("change event %d (%s): %s", e.Seq, e.Op, e.Reason)
}
