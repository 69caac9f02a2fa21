package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
)

// ErrSchedulerStopped is set on jobs submitted after Close.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Scheduler runs jobs in the background and hands finished jobs back to the
// world goroutine.
type Scheduler interface {
	Submit(job Job)
	// Drain returns every job that finished since the last call. It never
	// blocks.
	Drain() []Job
}

// completed collects finished jobs for Drain.
type completed struct {
	mu   sync.Mutex
	done []Job
}

func (c *completed) push(job Job) {
	c.mu.Lock()
	c.done = append(c.done, job)
	c.mu.Unlock()
}

func (c *completed) Drain() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.done) == 0 {
		return nil
	}
	batch := c.done
	c.done = nil
	return batch
}

// Pool runs jobs on a fixed-size pond worker pool. Every submitted job is
// eventually returned by Drain, including jobs that were cancelled or
// submitted after Close.
type Pool struct {
	completed
	ctx  context.Context
	pool pond.Pool
}

// NewPool starts a pool with the given number of workers. ctx is handed to
// every job; cancelling it makes queued jobs finish without doing work.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		ctx:  ctx,
		pool: pond.NewPool(workers),
	}
}

// Submit hands job to a worker. A job the pool no longer accepts, including
// one racing Close, is returned by Drain with ErrSchedulerStopped.
func (p *Pool) Submit(job Job) {
	err := p.pool.Go(func() {
		job.Run(p.ctx)
		p.push(job)
	})
	if err != nil {
		job.fail(ErrSchedulerStopped)
		p.push(job)
	}
}

// Running reports how many workers are busy.
func (p *Pool) Running() int64 {
	return p.pool.RunningWorkers()
}

// Waiting reports how many submitted jobs have not started yet.
func (p *Pool) Waiting() uint64 {
	return p.pool.WaitingTasks()
}

// Close waits for submitted jobs and stops the workers.
func (p *Pool) Close() {
	p.pool.StopAndWait()
}

// Inline runs every job synchronously inside Submit. It keeps a world fully
// deterministic, which tests and single-threaded tools rely on.
type Inline struct {
	completed
	ctx context.Context
}

func NewInline(ctx context.Context) *Inline {
	return &Inline{ctx: ctx}
}

func (s *Inline) Submit(job Job) {
	job.Run(s.ctx)
	s.push(job)
}

func (s *Inline) Close() {}
