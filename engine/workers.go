package engine

import (
	"context"
	"sync"
)

// workerPool runs blocking (sync-mode) node work on a fixed set of
// goroutines so the scheduler's own goroutines never execute it directly.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newWorkerPool(workers int) *workerPool {
	p := &workerPool{tasks: make(chan func())}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit schedules task and returns a channel closed when it finishes.
// Waiting for a free worker respects ctx; once a worker picks the task up
// it runs to completion.
func (p *workerPool) submit(ctx context.Context, task func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		task()
	}
	select {
	case p.tasks <- wrapped:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.tasks)
	p.wg.Wait()
}
