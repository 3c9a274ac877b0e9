// Package taskqueue runs timer-originated work on a single goroutine.
//
// Every task posted to a [Queue], whether directly via [Queue.Post] or from a
// timer created with [Queue.AfterFunc] or [Queue.Every], executes on the same
// worker goroutine in FIFO order. State touched only from tasks therefore
// needs no further serialisation against other tasks.
//
// Teardown is generation based: [Queue.Drain] stops every timer, discards
// every pending task and waits for the task currently executing (if any).
// Timers that fire afterwards carry a stale generation and are dropped, so a
// late callback can never mutate state that has been reset.
package taskqueue

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when posting to a closed queue.
var ErrClosed = errors.New("taskqueue: closed")

// Cancel stops a scheduled timer. It is safe to call more than once.
type Cancel func()

type task struct {
	gen uint64
	fn  func()
}

// Queue is a serialised task runner. The zero value is not usable; create
// one with [New].
type Queue struct {
	mu      sync.Mutex
	pending []task
	gen     uint64
	timers  map[*time.Timer]struct{}
	tickers map[*ticker]struct{}
	closed  bool
	// drained is closed and replaced on every Drain.
	drained chan struct{}

	// running is held by the worker while a task executes.
	running sync.Mutex

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New starts a queue with its worker goroutine.
func New() *Queue {
	q := &Queue{
		timers:  make(map[*time.Timer]struct{}),
		tickers: make(map[*ticker]struct{}),
		drained: make(chan struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Post enqueues fn for execution in the current generation.
func (q *Queue) Post(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pushLocked(task{gen: q.gen, fn: fn})
	return nil
}

// Do posts fn and blocks until it has run. It returns ErrClosed if the queue
// is closed, or nil without running fn if the queue is drained first.
// Do must not be called from inside a task.
func (q *Queue) Do(fn func()) error {
	ran := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	drained := q.drained
	q.pushLocked(task{gen: q.gen, fn: func() {
		fn()
		close(ran)
	}})
	q.mu.Unlock()

	select {
	case <-ran:
		return nil
	case <-drained:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// AfterFunc schedules fn to be posted after d. The task is discarded if the
// queue is drained before it runs.
func (q *Queue) AfterFunc(d time.Duration, fn func()) Cancel {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return func() {}
	}
	gen := q.gen
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if q.closed || q.gen != gen {
			return
		}
		q.pushLocked(task{gen: gen, fn: fn})
	})
	q.timers[t] = struct{}{}
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		t.Stop()
		delete(q.timers, t)
	}
}

type ticker struct {
	t    *time.Ticker
	stop chan struct{}
	once sync.Once
}

func (tk *ticker) halt() {
	tk.once.Do(func() {
		tk.t.Stop()
		close(tk.stop)
	})
}

// Every posts fn every interval until cancelled or drained. Ticks that arrive
// while a previous tick is still queued are not coalesced.
func (q *Queue) Every(interval time.Duration, fn func()) Cancel {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || interval <= 0 {
		return func() {}
	}
	gen := q.gen
	tk := &ticker{t: time.NewTicker(interval), stop: make(chan struct{})}
	q.tickers[tk] = struct{}{}

	go func() {
		for {
			select {
			case <-tk.stop:
				return
			case <-tk.t.C:
				q.mu.Lock()
				if q.closed || q.gen != gen {
					q.mu.Unlock()
					return
				}
				q.pushLocked(task{gen: gen, fn: fn})
				q.mu.Unlock()
			}
		}
	}()
	return func() {
		q.mu.Lock()
		delete(q.tickers, tk)
		q.mu.Unlock()
		tk.halt()
	}
}

// Drain stops all timers and tickers, discards pending tasks and waits for
// the task currently executing to return. Work scheduled after Drain returns
// runs normally. Drain must not be called from inside a task.
func (q *Queue) Drain() {
	q.mu.Lock()
	q.gen++
	q.pending = nil
	q.stopTimersLocked()
	close(q.drained)
	q.drained = make(chan struct{})
	q.mu.Unlock()

	// Wait for the in-flight task, if any.
	q.running.Lock()
	q.running.Unlock() //nolint:staticcheck // empty critical section is the wait
}

// Generation returns the current drain generation.
func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drains the queue and stops the worker goroutine. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.gen++
	q.pending = nil
	q.stopTimersLocked()
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}

func (q *Queue) pushLocked(t task) {
	q.pending = append(q.pending, t)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) stopTimersLocked() {
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	for tk := range q.tickers {
		tk.halt()
	}
	clear(q.tickers)
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			q.running.Lock()
			q.mu.Lock()
			if len(q.pending) == 0 || q.closed {
				q.mu.Unlock()
				q.running.Unlock()
				break
			}
			t := q.pending[0]
			q.pending = q.pending[1:]
			stale := t.gen != q.gen
			q.mu.Unlock()

			if !stale {
				t.fn()
			}
			q.running.Unlock()
		}
	}
}
