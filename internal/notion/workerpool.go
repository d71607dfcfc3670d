package notion

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxWorkers caps any pool; every worker shares one rate-limited client.
const MaxWorkers = 20

// WorkerPool runs independent jobs with bounded concurrency. Unlike a bare
// errgroup, one failing job does not cancel the others.
//
// Jobs must not start a nested Run on the same pool: a job blocked on the
// inner call holds a slot the inner call may need.
type WorkerPool struct {
	limit   int
	onStart func(i int)
}

// NewWorkerPool clamps limit to [1, MaxWorkers].
func NewWorkerPool(limit int) *WorkerPool {
	return &WorkerPool{limit: min(max(limit, 1), MaxWorkers)}
}

// OnStart registers a hook called with the job index once a slot is held.
func (p *WorkerPool) OnStart(fn func(i int)) {
	p.onStart = fn
}

// Run calls job for indices 0..n-1 and returns their errors by index. Jobs
// that had not started when ctx ended report ctx.Err().
func (p *WorkerPool) Run(ctx context.Context, n int, job func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			if p.onStart != nil {
				p.onStart(i)
			}
			errs[i] = job(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
