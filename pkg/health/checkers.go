package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is anything with a connectivity probe, such as a document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than threshold goroutines are running.
// Session janitors and store subscriptions each hold one, so a leak shows
// up here first.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when the longest recent GC pause exceeds threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		stats.PauseQuantiles = make([]time.Duration, 5)
		debug.ReadGCStats(&stats)

		if longest := stats.PauseQuantiles[len(stats.PauseQuantiles)-1]; longest > threshold {
			return errors.Errorf("max GC pause %s exceeds threshold %s", longest, threshold)
		}
		return nil
	}
}
