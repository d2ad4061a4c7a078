package httpx

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"dqx0.com/go/burrow/internal/obs"
)

// Task is a unit of work run by a WorkerPool.
type Task interface {
	Run()
}

// TaskFunc adapts a function to Task.
type TaskFunc func()

func (f TaskFunc) Run() { f() }

// WorkerPool runs tasks on a fixed set of goroutines fed from one FIFO
// queue. With a zero queue limit the queue is unbounded and Submit never
// blocks.
type WorkerPool struct {
	limit int
	log   *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool
	active int
	wg     sync.WaitGroup
}

// NewWorkerPool starts size workers. size < 1 means one worker.
func NewWorkerPool(size, queueLimit int, logger *slog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	p := &WorkerPool{limit: queueLimit, log: obs.OrDiscard(logger)}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues t and wakes one idle worker.
func (p *WorkerPool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.limit > 0 && len(p.queue) >= p.limit {
		return ErrQueueFull
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

func (p *WorkerPool) worker(n int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.run(n, t)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *WorkerPool) run(n int, t Task) {
	defer func() {
		if v := recover(); v != nil {
			p.log.Error("worker task panicked", "worker", n, "panic", v, "stack", string(debug.Stack()))
		}
	}()
	t.Run()
}

// Shutdown stops accepting tasks and wakes idle workers. Tasks still queued
// are dropped and closed if they implement io.Closer; running tasks finish
// on their own.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, t := range pending {
		if c, ok := t.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Wait blocks until every worker has exited or ctx is done.
func (p *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the queue length.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Active reports how many tasks are running.
func (p *WorkerPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
