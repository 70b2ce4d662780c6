// Package resilience provides the bounded-concurrency limiter and the
// retry-with-backoff discipline used by every fan-out stage.
package resilience

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DefaultLimit bounds concurrent units when a call site does not choose one.
const DefaultLimit = 5

// Outcome is the settled result of one unit: either a value or an error,
// never both meaningful at once.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Gather runs every unit with at most limit in flight and waits for all of
// them to settle. The returned slice is index-aligned with units; a failing
// unit is reported in its own Outcome and never cancels or blocks siblings.
func Gather[T any](ctx context.Context, limit int, units []func(context.Context) (T, error)) []Outcome[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	out := make([]Outcome[T], len(units))
	pool, err := ants.NewPool(limit)
	if err != nil {
		// Pool creation only fails on invalid sizes; run sequentially.
		for i, u := range units {
			out[i].Value, out[i].Err = u(ctx)
		}
		return out
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, u := range units {
		i, u := i, u
		wg.Add(1)
		if submitErr := pool.Submit(func() {
			defer wg.Done()
			out[i].Value, out[i].Err = u(ctx)
		}); submitErr != nil {
			wg.Done()
			out[i].Err = submitErr
		}
	}
	wg.Wait()
	return out
}
