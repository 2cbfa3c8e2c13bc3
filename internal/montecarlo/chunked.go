package montecarlo

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of iterations between yield points.
const DefaultChunkSize = 500

// ProgressFunc receives the completed fraction in [0,1]. Calls are
// monotonically non-decreasing and the last call reports 1.
type ProgressFunc func(fraction float64)

// ChunkOptions configure RunChunked.
type ChunkOptions struct {
	ChunkSize int
	Progress  ProgressFunc
}

// RunChunked runs iterations in chunks, yielding the processor and checking
// ctx between chunks. Cancellation stops before the next chunk and returns
// ctx's error. Output is identical to Run for the same inputs.
func RunChunked(ctx context.Context, assets []Asset, a Assumptions, p Params, opts ChunkOptions) (*Results, error) {
	sim, err := NewSimulator(assets, a, p)
	if err != nil {
		return nil, err
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	n := p.Iterations
	out := make([]IterationResult, n)
	for from := 0; from < n; from += size {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "montecarlo: cancelled after %d of %d iterations", from, n)
		}
		to := min(from+size, n)
		sim.iterateRange(out, from, to)
		if opts.Progress != nil {
			opts.Progress(float64(to) / float64(n))
		}
		runtime.Gosched()
	}
	return sim.Aggregate(out), nil
}

// RunParallel splits the iteration range across workers and merges the
// outcomes. Each iteration draws from its own seeded stream, so the result
// matches Run regardless of the worker count.
func RunParallel(ctx context.Context, assets []Asset, a Assumptions, p Params, workers int) (*Results, error) {
	sim, err := NewSimulator(assets, a, p)
	if err != nil {
		return nil, err
	}
	n := p.Iterations
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, n)

	out := make([]IterationResult, n)
	per := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		from := w * per
		to := min(from+per, n)
		if from >= to {
			break
		}
		g.Go(func() error {
			for start := from; start < to; start += DefaultChunkSize {
				if err := gctx.Err(); err != nil {
					return eris.Wrap(err, "montecarlo: parallel run cancelled")
				}
				sim.iterateRange(out, start, min(start+DefaultChunkSize, to))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sim.Aggregate(out), nil
}
