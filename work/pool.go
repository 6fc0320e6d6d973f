package work

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// A Pool runs a rank's local computation on a bounded number of worker
// goroutines.  It is private to the rank; other ranks never see it.
type Pool struct {
	Workers int // Maximum concurrent workers; <= 0 means runtime.NumCPU()
}

// size returns the effective worker count.
func (p Pool) size() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// MapReduce splits w into one piece per worker, runs kernel on each piece
// concurrently, and folds the partial results with combine in ascending
// piece order.  It stops early if ctx is cancelled.
func MapReduce[V any](ctx context.Context, p Pool, w WorkRange, kernel func(WorkRange) V, combine func(V, V) V) (V, error) {
	var zero V
	n := p.size()
	if w.Count < n {
		// No point starting workers with nothing to do, but keep one so
		// an empty range still produces kernel's value for it.
		n = max(w.Count, 1)
	}
	pieces, err := w.Split(n)
	if err != nil {
		return zero, err
	}

	partial := make([]V, len(pieces))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			partial[i] = kernel(piece)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	acc := partial[0]
	for _, v := range partial[1:] {
		acc = combine(acc, v)
	}
	return acc, nil
}
