// Package idle runs deferred work one task at a time, off the caller's path.
package idle

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/psantana5/ffrec/pkg/logging"
)

// Task is a unit of deferred work
type Task func(ctx context.Context) error

// ErrorHandler receives every error returned or panicked by a task
type ErrorHandler func(err error)

// Stats counts what the queue has done so far
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// Queue executes tasks in FIFO order on a single worker goroutine.
// Enqueue never blocks.
type Queue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	onError ErrorHandler
	logger  *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	running bool
	closed  bool
	stats   Stats

	done chan struct{}
}

// New starts a queue. onError may be nil.
func New(onError ErrorHandler, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:     ctx,
		cancel:  cancel,
		onError: onError,
		logger:  logger,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Enqueue schedules a task. Tasks enqueued after Close are dropped.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.stats.Dropped++
		q.logger.Warn("Idle task dropped, queue is closed")
		return
	}
	q.tasks = append(q.tasks, task)
	q.stats.Enqueued++
	q.cond.Broadcast()
}

// Len returns the number of tasks waiting or running
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if q.running {
		n++
	}
	return n
}

// Stats returns a copy of the counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Drain blocks until the queue is empty and idle, or ctx is done.
// Tasks enqueued by running tasks are waited for as well.
func (q *Queue) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) > 0 || q.running {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("idle queue drain interrupted with %d task(s) left: %w", len(q.tasks), err)
		}
		q.cond.Wait()
	}
	return nil
}

// Close stops accepting tasks, drops the ones not yet started and cancels
// the context of the running one. It waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.stats.Dropped += int64(len(q.tasks))
	q.tasks = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.running = true
		q.mu.Unlock()

		err := q.run(task)
		if err != nil && q.onError != nil {
			// before the task counts as done, so Drain sees handled errors
			q.onError(err)
		}

		q.mu.Lock()
		q.running = false
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Completed++
		}
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) run(task Task) (err error) {
	recovered := panics.Try(func() {
		err = task(q.ctx)
	})
	if recovered != nil {
		return fmt.Errorf("idle task panicked: %w", recovered.AsError())
	}
	return err
}
