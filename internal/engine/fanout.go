package engine

import (
	"context"
	"time"

	"jellyswarrm/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// fanOutOp calls fn once per backend concurrently and waits for every
// call to settle before returning — spec §9: "model each fan-out as N
// independent tasks joined with an all-settled combinator, not a
// fail-fast join; one backend's failure is not fatal." fn's own error is
// captured per-backend rather than propagated, so errgroup never aborts
// the other in-flight calls on a sibling's failure; only the inbound
// ctx's cancellation does that. op labels the latency histogram so
// /metrics can distinguish Views/Items/NextUp/... fan-outs.
func fanOutOp(ctx context.Context, op string, backends []BackendContext, fn func(ctx context.Context, b BackendContext) ([]Item, error)) []backendResult {
	started := time.Now()
	results := make([]backendResult, len(backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			items, err := fn(gctx, b)
			results[i] = backendResult{backend: b, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()
	metrics.FanOutDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	return results
}

// settled splits fan-out results into the backends that returned items
// and the ones that failed, per spec §4.5's partial-failure policy: a
// failed backend's results are simply omitted from the merge.
func settled(results []backendResult) (ok []backendResult, failed []backendResult) {
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r)
			continue
		}
		ok = append(ok, r)
	}
	return ok, failed
}
