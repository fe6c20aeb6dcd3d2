// Package queue runs connection tasks on a fixed set of workers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB/conn"
)

var (
	ErrClosed = errors.New("task queue closed")
	ErrFull   = errors.New("task queue full")
)

// Queue is a bounded task queue. Submit never blocks: a task is either
// accepted, or rejected with ErrFull or ErrClosed.
type Queue struct {
	tasks  chan *conn.Task
	wg     *conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
}

var _ conn.Queue = (*Queue)(nil)

// New starts workers goroutines draining a queue of the given capacity.
func New(workers, capacity int, log *zap.SugaredLogger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan *conn.Task, capacity),
		wg:     conc.NewWaitGroup(),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	for range workers {
		q.wg.Go(q.work)
	}
	return q
}

func (q *Queue) Submit(task *conn.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrFull
	}
}

// Len is the number of accepted tasks not yet picked up by a worker.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks, runs the ones already accepted and waits
// for the workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) work() {
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task *conn.Task) {
	var catcher panics.Catcher
	if task.Run != nil {
		catcher.Try(func() { task.Run(q.ctx) })
	}

	var recovered error
	if r := catcher.Recovered(); r != nil {
		recovered = r.AsError()
		q.log.Errorw("Task panicked", "primitive", task.Primitive, "err", recovered)
	}
	if task.Complete != nil {
		task.Complete(recovered)
	}
	if err := task.Release(); err != nil {
		q.log.Warnw("Task released twice", "primitive", task.Primitive)
	}
}
