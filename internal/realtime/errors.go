package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUser is returned by Attach when no subscribing user was given.
	ErrNoUser = errors.New("connection has no user")

	// ErrRegistryClosed is returned by Attach after Close.
	ErrRegistryClosed = errors.New("connection registry is closed")
)

// DeliveryError is a failed send to one connection. It is logged by the
// registry and never aborts delivery to other connections.
type DeliveryError struct {
	ConnectionID string
	User         string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to connection %s (user %s): %v", e.ConnectionID, e.User, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
