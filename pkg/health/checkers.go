package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is the dependency surface for PingCheck. Database pools and cache
// clients typically satisfy it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a dependency's round trip. Suited to readiness.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails once the process exceeds limit goroutines,
// catching leaks before they exhaust memory. Suited to liveness.
func GoroutineCountCheck(limit int) Check {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}
