package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dandantas/lms-worker/pkg/middleware"
)

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// WorkerPool manages a pool of worker goroutines for concurrent task execution
type WorkerPool struct {
	workers  int
	tasks    chan Task
	handlers map[string]HandlerFunc
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		tasks:    make(chan Task, queueSize),
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for an operation. Must be called before Start.
func (wp *WorkerPool) Handle(operation string, fn HandlerFunc) {
	wp.handlers[operation] = fn
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	slog.Info("Starting worker pool", "workers", wp.workers, "operations", len(wp.handlers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops accepting tasks and waits for queued and in-flight tasks to finish
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	slog.Info("Stopping worker pool", "queued", len(wp.tasks))
	wp.stopped = true
	close(wp.tasks)
	wp.mu.Unlock()

	// Wait for all workers to finish
	wp.wg.Wait()

	wp.cancel()

	slog.Info("Worker pool stopped")
}

// Submit queues a task, blocking until there is room, ctx is done or the pool stops
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrPoolStopped
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	select {
	case wp.tasks <- task:
		slog.Debug("Task submitted to worker pool",
			"operation", task.Operation,
			"job_id", task.JobID,
			"correlation_id", task.CorrelationID,
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to submit task: %w", ctx.Err())
	}
}

// QueueLength returns the current number of tasks waiting in the queue
func (wp *WorkerPool) QueueLength() int {
	return len(wp.tasks)
}

// worker is the worker goroutine that processes tasks
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for task := range wp.tasks {
		wp.run(id, task)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}

// run executes one task; a panicking handler does not take the worker down
func (wp *WorkerPool) run(id int, task Task) {
	fn, ok := wp.handlers[task.Operation]
	if !ok {
		slog.Error("No handler registered for operation",
			"worker_id", id,
			"operation", task.Operation,
			"job_id", task.JobID,
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in worker",
				"worker_id", id,
				"operation", task.Operation,
				"job_id", task.JobID,
				"error", r,
				"stack_trace", string(debug.Stack()),
			)
		}
	}()

	ctx := middleware.WithCorrelationID(wp.ctx, task.CorrelationID)

	start := time.Now()
	err := fn(ctx, task)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Task failed",
			"worker_id", id,
			"operation", task.Operation,
			"job_id", task.JobID,
			"correlation_id", task.CorrelationID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return
	}

	slog.Debug("Task completed",
		"worker_id", id,
		"operation", task.Operation,
		"job_id", task.JobID,
		"correlation_id", task.CorrelationID,
		"duration_ms", duration.Milliseconds(),
		"queue_wait_ms", start.Sub(task.EnqueuedAt).Milliseconds(),
	)
}

// Enqueue returns a message handler that queues each payload as a task for operation
func (wp *WorkerPool) Enqueue(operation string) func(ctx context.Context, data []byte) error {
	return func(ctx context.Context, data []byte) error {
		return wp.Submit(ctx, Task{Operation: operation, Payload: data})
	}
}
