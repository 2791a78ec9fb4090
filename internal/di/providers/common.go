package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of
	// services that have no configured timeout.
	shutdownTimeout = 30 * time.Second
)

// shutdownBudget returns d, or shutdownTimeout when d is unset.
func shutdownBudget(d time.Duration) time.Duration {
	if d <= 0 {
		return shutdownTimeout
	}
	return d
}
