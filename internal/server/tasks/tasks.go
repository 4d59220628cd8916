// Package tasks runs fire-and-forget background work on a bounded queue.
// Submitting never blocks the caller: when the queue is full the task is
// dropped and logged, by the same reasoning that a failed thumbnail must
// not fail the upload that triggered it.
package tasks

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is a named unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher fans tasks out to a fixed pool of workers.
type Dispatcher struct {
	queue   chan Task
	logger  *zap.Logger
	workers int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher sizes the pool. workers and queueSize must be positive.
func NewDispatcher(workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:   make(chan Task, queueSize),
		logger:  logger,
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// the queue is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-d.queue:
			if !ok {
				return
			}
			if err := task.Run(ctx); err != nil {
				// Background failures are logged, never propagated.
				d.logger.Warn("background task failed",
					zap.String("task", task.Name),
					zap.Error(err))
			}
		}
	}
}

// Submit enqueues a task without blocking. It reports whether the task
// was accepted.
func (d *Dispatcher) Submit(task Task) bool {
	select {
	case d.queue <- task:
		return true
	default:
		d.logger.Warn("task queue full, dropping task", zap.String("task", task.Name))
		return false
	}
}

// Close stops accepting tasks and waits for queued work to finish.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}
