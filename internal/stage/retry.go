// retry.go implements exponential backoff for retryable stage errors.
package stage

import (
	"context"
	"time"
)

// Backoff computes delays for retry attempts: the base delay doubles per
// attempt and is capped at Max. No jitter, so retry timing is deterministic
// and testable.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the backoff before retry number attempt (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
