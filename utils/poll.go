package utils

import (
	"context"
	"fmt"
	"time"
)

// WaitFor evaluates cond every interval until it reports done, returns an
// error, or timeout elapses. The first evaluation happens immediately, so a
// condition that already holds never sleeps. Used for lock-release and
// process-exit waits, where the watched state has no event to subscribe to.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("still waiting after %s", timeout)
		case <-tick.C:
		}
	}
}
