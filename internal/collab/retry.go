package collab

import (
	"time"

	"github.com/cenkalti/backoff"
)

// retrySchedule wraps an exponential backoff as the reconnect delay source.
//
// With jitter disabled (the default) the schedule is exactly
// min(base * 2^attempt, cap), which keeps reconnect timing assertable.
// Jitter spreads simultaneous mass-reconnects (e.g. after a server restart)
// at the cost of that determinism.
type retrySchedule struct {
	bo *backoff.ExponentialBackOff
}

func newRetrySchedule(base, cap time.Duration, jitter bool) *retrySchedule {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = cap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	if jitter {
		bo.RandomizationFactor = 0.5
	}
	// The attempt cap is enforced by the client, never by elapsed time.
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &retrySchedule{bo: bo}
}

// next returns the delay before the next reconnect attempt.
func (s *retrySchedule) next() time.Duration {
	return s.bo.NextBackOff()
}

// reset rewinds the schedule to the base delay.
func (s *retrySchedule) reset() {
	s.bo.Reset()
}
