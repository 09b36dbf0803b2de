// Package pool provides a bounded-concurrency executor for job units.
//
// At most N units run at once across the whole process; excess submissions
// wait in a bounded FIFO queue. A full queue rejects the submission
// synchronously with ErrQueueFull so callers can tell the client to retry
// later instead of queuing without bound.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var ErrQueueFull = errors.New("worker queue is full")
var ErrClosed = errors.New("worker pool is shut down")

// Task is one unit of work. The error it returns (or the panic it raises,
// converted to an error) is delivered on the completion handle returned by
// Submit. Once a task starts it runs to completion; the pool has no way to
// cancel a running task.
type Task func(ctx context.Context) error

type submission struct {
	task Task
	done chan error
}

// Pool runs tasks on a fixed set of worker goroutines.
type Pool struct {
	queue chan submission
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a pool with the given worker count and queue capacity.
// Non-positive values fall back to 3 workers and a queue of 16.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 3
	}
	if queueSize < 1 {
		queueSize = 16
	}

	p := &Pool{
		queue: make(chan submission, queueSize),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task and returns a completion handle that receives the
// task's result exactly once. It never blocks: a full queue returns
// ErrQueueFull immediately.
func (p *Pool) Submit(task Task) (<-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	sub := submission{task: task, done: make(chan error, 1)}
	select {
	case p.queue <- sub:
		return sub.done, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and in-flight tasks to finish.
// When ctx expires first, the remaining tasks are abandoned to the process
// exit and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

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

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for sub := range p.queue {
		sub.done <- p.run(id, sub.task)
		close(sub.done)
	}
}

// run executes one task, containing panics at the unit boundary so a faulty
// task can never take down the pool or the process.
func (p *Pool) run(id int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in worker task",
				"worker", id,
				"error", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(context.Background())
}
