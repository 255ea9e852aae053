package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes tasks in order of their deadlines, using a fixed number of goroutines.
// Tasks are added to the pool with a function that returns the next deadline.
// The pool will execute the tasks in the order of their deadlines, ensuring that
// tasks with earlier deadlines are executed before those with later deadlines.
// If a task is added while the pool is waiting for the next task, it will wake up
// the waiting goroutine to process the new task immediately.
// A task returning the zero time is removed from the pool.
type Pool struct {
	mu    sync.Mutex
	queue []*task
	reg   map[string]*task
	wait  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

// New starts the workers. They stop when ctx is done or the pool is closed.
func New(ctx context.Context, workers int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	pool := &Pool{reg: make(map[string]*task), ctx: ctx, cancel: cancel}

	pool.wg.Add(workers)
	for range workers {
		go pool.work()
	}

	return pool
}

// Close cancels the context passed to running tasks and waits for the
// workers to return.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}

// Add schedules a task to run now. Names are unique among the tasks in the
// pool.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.reg[name]; ok {
		return fmt.Errorf("task %s already exists", name)
	}

	t := &task{name: name, fn: fn, deadline: time.Now()}
	p.reg[name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
	return nil
}

// Has reports whether the named task is queued or running.
func (p *Pool) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reg[name]
	return ok
}

// work is the main loop for each worker goroutine.
func (p *Pool) work() {
	defer p.wg.Done()

	for {
		t := p.dequeue()
		if t == nil {
			return
		}
		p.enqueue(t.Execute(p.ctx))
	}
}

// Trigger runs the named task NOW, if it is in the queue, regardless of the
// previous deadline, by pulling it into the front of the queue. If the named
// task is not queued, it's running. In that case, we'll have it override its
// next deadline to NOW, causing an immediate re-run after the current run.
// Subsequent runs will use the deadline returned by the task's `fn`.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(t *task) bool { return t.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// if it's not in p.queue, it must be running at the moment
	if t, ok := p.reg[n]; ok {
		t.rerun = true
		return nil
	}

	return fmt.Errorf("no task with name %s", n)
}

// sortAndWake is used in multiple places, but always needs to be run
// within a p.mu lock!
func (p *Pool) sortAndWake() {
	// Maintain the tasks in deadline order.
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	// Wake up any waiting goroutine.
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.deadline.IsZero() {
		// Task requested removal from the pool.
		delete(p.reg, t.name)
		return
	}

	p.queue = append(p.queue, t)
	p.sortAndWake()
}

// dequeue blocks until the earliest task is due. It returns nil once the
// pool is shutting down.
func (p *Pool) dequeue() *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.ctx.Err() != nil {
			return nil
		}

		var t *task
		if len(p.queue) == 0 {
			t = &task{name: "dummy", deadline: time.Now().Add(time.Hour * 24 * 365)} // Default to a far future deadline
		} else {
			t = p.queue[0]
		}

		if t.deadline.After(time.Now()) {
			// Task is not ready yet, wait for it to be executed or another (potentially earlier) task to arrive.

			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			timer := time.NewTimer(time.Until(t.deadline))
			select {
			case <-timer.C:
			case <-wait:
			case <-p.ctx.Done():
			}
			timer.Stop()

			p.mu.Lock()
			continue
		}

		// The first queued task is ready to be executed, remove it from the queue.
		break
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t
}

func (t *task) Execute(ctx context.Context) *task {
	t.deadline = t.fn(ctx)
	if t.rerun && !t.deadline.IsZero() {
		t.rerun = false
		t.deadline = time.Now()
	}
	return t
}
