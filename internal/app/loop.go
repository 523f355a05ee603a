package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher runs state mutations on one logical thread.
type Dispatcher interface {
	// Post queues fn without waiting for it to run.
	Post(fn func())
	// Call runs fn and waits for it to finish.
	Call(ctx context.Context, fn func()) error
}

var (
	_ Dispatcher = (*Loop)(nil)
	_ Dispatcher = Inline{}
)

// Loop is the event loop every table mutation goes through. Transport and
// rendezvous callbacks arrive on their own goroutines and are posted here.
// Work queued from inside a running handler lands behind the handler, so
// Post never waits on the loop.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	warnAt  int
	warned  bool

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewLoop returns a loop that logs a warning once its backlog passes
// warnAt queued handlers.
func NewLoop(warnAt int) *Loop {
	if warnAt <= 0 {
		warnAt = 256
	}
	return &Loop{
		warnAt: warnAt,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues fn and returns at once. After the loop stops, posted work is
// dropped.
func (l *Loop) Post(fn func()) {
	if !l.enqueue(fn) {
		log.Debug().Str("module", "app.loop").Msg("post after shutdown dropped")
	}
}

func (l *Loop) enqueue(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	backlog := len(l.pending)
	warn := backlog > l.warnAt && !l.warned
	if warn {
		l.warned = true
	}
	l.mu.Unlock()
	if warn {
		log.Warn().Str("module", "app.loop").Int("backlog", backlog).Msg("event loop falling behind")
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	if !l.enqueue(wrapped) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backlog is the number of handlers waiting to run.
func (l *Loop) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Run drains the queue until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.doneOnce.Do(func() { close(l.done) })
	log.Info().Str("module", "app.loop").Msg("event loop started")
	for {
		if ctx.Err() != nil {
			log.Info().Str("module", "app.loop").Msg("event loop stopped")
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.loop").Msg("event loop stopped")
			return ctx.Err()
		case <-l.wake:
		}
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.run(fn)
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		l.warned = false
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.loop").Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}

// Inline runs everything synchronously on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) { fn() }

func (Inline) Call(_ context.Context, fn func()) error {
	fn()
	return nil
}
