package collector

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs several collectors concurrently, one goroutine per session.
// Sessions share nothing but the gate, so they never block each other outside
// their permit waits. Expected outcomes (aborts included) live in each
// collector's RunResult; only programming-error-class failures surface here,
// and the first one cancels the rest.
func RunAll(ctx context.Context, collectors ...*Collector) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range collectors {
		c := c
		g.Go(func() error {
			_, err := c.Run(ctx)
			return err
		})
	}
	return g.Wait()
}
