package executor

import (
	"context"
	"time"
)

// WaitUntil sleeps until targetSeconds of scenario time have passed since
// start. timeScale compresses scenario time; values below 1 mean real time.
func WaitUntil(ctx context.Context, start time.Time, targetSeconds, timeScale int) error {
	if timeScale < 1 {
		timeScale = 1
	}

	target := start.Add(time.Duration(targetSeconds) * time.Second / time.Duration(timeScale))
	wait := time.Until(target)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
