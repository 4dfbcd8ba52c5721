// Package sched provides the single execution context the live client runs on:
// an event loop that executes posted work in order, plus cancellable timers
// whose callbacks are delivered onto the same loop.
package sched

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Call once the loop has been shut down.
var ErrClosed = errors.New("sched: loop closed")

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports false when the callback already
	// fired or was stopped before.
	Stop() bool
}

// Scheduler runs work on a single execution context.
type Scheduler interface {
	// Post queues fn to run on the loop. It never blocks.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is a Scheduler backed by one goroutine. Work posted to it runs in
// posting order and never concurrently with other work on the same loop.
type Loop struct {
	logger *log.Logger

	mu    sync.Mutex
	queue []func()

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts a loop goroutine. Close must be called to release it.
func NewLoop(logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.StandardLogger()
	}
	l := &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("loop task panicked")
		}
	}()
	fn()
}

// Post queues fn. Work posted after Close is dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.quit:
		return
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to return. It must not be used
// from inside loop work, which would deadlock.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// AfterFunc schedules fn onto the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops the loop after the work currently being executed. Queued work
// that has not started is discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}
