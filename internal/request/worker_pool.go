package request

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by TrySubmit when the job queue has no room.
var ErrQueueFull = errors.New("fulfillment queue is full")

type job func(ctx context.Context)

// WorkerPool runs fulfillment jobs with bounded concurrency and a bounded
// queue. Each job owns a browser process for its whole run, so the
// concurrency limit is what actually caps memory use.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *WorkerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					job(p.ctx)
				}
			}
		}()
	}
}

// TrySubmit schedules a job without blocking; a full queue is reported as
// ErrQueueFull so callers can fail the request instead of stalling the
// submission path.
func (p *WorkerPool) TrySubmit(fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *WorkerPool) Close() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}
