package prefetch

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stats holds queue counters.
type Stats struct {
	Enqueued  int64
	Completed int64
	Skipped   int64
	Failed    int64
	Queued    int
}

// Queue is a priority work queue drained by a single worker.
type Queue struct {
	ctx        context.Context
	cancel     context.CancelFunc
	exec       Executor
	opts       *options
	tasks      *list.List
	queued     map[string]*list.Element
	prefetched map[string]time.Time
	hovers     map[string]*time.Timer
	signal     chan struct{}
	running    string
	idle       []string
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool

	enqueued  atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// New creates a queue and starts its worker.
func New(exec Executor, opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:        ctx,
		cancel:     cancel,
		exec:       exec,
		opts:       o,
		tasks:      list.New(),
		queued:     make(map[string]*list.Element),
		prefetched: make(map[string]time.Time),
		hovers:     make(map[string]*time.Timer),
		signal:     make(chan struct{}, 1),
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// Enqueue adds a task for target. High priority tasks go ahead of every
// medium and low task, medium tasks ahead of every low task. Tasks of the
// same priority run in the order they were enqueued.
// A target that is queued, running or already prefetched is rejected with
// ErrAlreadyKnown unless Forced is given for a prefetched target.
func (q *Queue) Enqueue(target string, opts ...TaskOption) (uuid.UUID, error) {
	if target == "" {
		return uuid.Nil, ErrEmptyTarget
	}

	task := Task{
		ID:         uuid.New(),
		Target:     target,
		Priority:   PriorityMedium,
		EnqueuedAt: q.opts.now(),
	}
	for _, opt := range opts {
		opt(&task)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return uuid.Nil, ErrClosed
	}
	if _, ok := q.queued[target]; ok || q.running == target {
		return uuid.Nil, ErrAlreadyKnown
	}
	if _, ok := q.prefetched[target]; ok && !task.Force {
		return uuid.Nil, ErrAlreadyKnown
	}
	if q.tasks.Len() >= q.opts.maxLen {
		return uuid.Nil, ErrQueueFull
	}

	q.queued[target] = q.insert(&task)
	q.enqueued.Add(1)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return task.ID, nil
}

func (q *Queue) insert(task *Task) *list.Element {
	switch task.Priority {
	case PriorityHigh:
		for e := q.tasks.Front(); e != nil; e = e.Next() {
			if e.Value.(*Task).Priority != PriorityHigh {
				return q.tasks.InsertBefore(task, e)
			}
		}
	case PriorityMedium:
		for e := q.tasks.Front(); e != nil; e = e.Next() {
			if e.Value.(*Task).Priority == PriorityLow {
				return q.tasks.InsertBefore(task, e)
			}
		}
	}
	return q.tasks.PushBack(task)
}

// Prefetched reports whether target completed successfully.
func (q *Queue) Prefetched(target string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.prefetched[target]
	return ok
}

// Forget drops the prefetched mark of target so it can be enqueued again.
func (q *Queue) Forget(target string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.prefetched, target)
}

// ForgetAll drops every prefetched mark.
func (q *Queue) ForgetAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prefetched = make(map[string]time.Time)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Skipped:   q.skipped.Load(),
		Failed:    q.failed.Load(),
		Queued:    q.Len(),
	}
}

// Close drops queued tasks, stops pending hover timers, cancels the running
// task and waits for the worker. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for target, timer := range q.hovers {
		timer.Stop()
		delete(q.hovers, target)
	}
	q.tasks.Init()
	q.queued = make(map[string]*list.Element)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.tasks.Front()
	if front == nil {
		return nil, false
	}
	task := q.tasks.Remove(front).(*Task)
	delete(q.queued, task.Target)
	q.running = task.Target
	return task, true
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.signal:
		}

		for {
			task, ok := q.next()
			if !ok {
				break
			}
			q.settle(task, q.process(task))
			if q.ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *Queue) process(task *Task) State {
	if task.Condition != nil && !task.Condition() {
		return StateSkipped
	}

	if task.Delay > 0 {
		timer := time.NewTimer(task.Delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return StateSkipped
		case <-timer.C:
		}
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.opts.timeout)
	defer cancel()

	if err := q.exec(ctx, task.Target); err != nil {
		q.opts.logger.WarnContext(ctx, "prefetch failed",
			slog.String("target", task.Target),
			slog.String("priority", task.Priority.String()),
			slog.Any("error", err),
		)
		return StateFailed
	}
	return StateCompleted
}

func (q *Queue) settle(task *Task, state State) {
	q.mu.Lock()
	q.running = ""
	if state == StateCompleted {
		q.prefetched[task.Target] = q.opts.now()
	}
	q.mu.Unlock()

	switch state {
	case StateCompleted:
		q.completed.Add(1)
	case StateSkipped:
		q.skipped.Add(1)
	case StateFailed:
		q.failed.Add(1)
	}

	if q.opts.onSettled != nil {
		q.opts.onSettled(*task, state)
	}
}
