package clock

import (
	"context"
	"time"
)

// Sleep waits for delay or until ctx is done, whichever comes first. A
// non-positive delay only reports whether ctx is already done.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
