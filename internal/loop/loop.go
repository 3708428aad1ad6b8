// Package loop runs a session's timer ticks and network completions on a
// single goroutine, so engine state needs no locks.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registration is a cancellable repeating callback.
type Registration interface {
	Stop()
}

// Scheduler runs callbacks one at a time.
type Scheduler interface {
	// Every runs fn on the scheduler every interval until the registration
	// is stopped.
	Every(interval time.Duration, fn func()) Registration
	// Post queues fn to run on the scheduler.
	Post(fn func())
}

// Loop is a Scheduler backed by one goroutine started with Run.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	tickers map[*ticker]struct{}
}

// New creates a Loop with a task queue of the given depth.
func New(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{
		tasks:   make(chan func(), queue),
		done:    make(chan struct{}),
		tickers: make(map[*ticker]struct{}),
	}
}

// Run executes queued callbacks until ctx is cancelled, then stops every
// outstanding registration.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.stopAll()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post implements Scheduler. It drops the task once the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Every implements Scheduler.
func (l *Loop) Every(interval time.Duration, fn func()) Registration {
	t := &ticker{
		loop: l,
		stop: make(chan struct{}),
	}
	l.mu.Lock()
	l.tickers[t] = struct{}{}
	l.mu.Unlock()

	go t.run(interval, fn)
	return t
}

// Active returns the number of live registrations.
func (l *Loop) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tickers)
}

func (l *Loop) stopAll() {
	l.mu.Lock()
	all := make([]*ticker, 0, len(l.tickers))
	for t := range l.tickers {
		all = append(all, t)
	}
	l.mu.Unlock()
	for _, t := range all {
		t.Stop()
	}
}

type ticker struct {
	loop    *Loop
	stop    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (t *ticker) run(interval time.Duration, fn func()) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-t.loop.done:
			return
		case <-tk.C:
			t.loop.Post(func() {
				// A tick queued before Stop must not run after it.
				if !t.stopped.Load() {
					fn()
				}
			})
		}
	}
}

// Stop implements Registration. It is safe to call more than once.
func (t *ticker) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
		t.loop.mu.Lock()
		delete(t.loop.tickers, t)
		t.loop.mu.Unlock()
	})
}
