// Package pump provides the host event loop the debugger pumps while a
// script is suspended or running freely.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Errors returned by the loop.
var (
	// ErrClosed is returned when posting to a closed loop.
	ErrClosed = errors.New("event loop is closed")

	// ErrQueueFull is returned by Post when the queue is full.
	ErrQueueFull = errors.New("event loop queue full")
)

// DefaultQueueSize is the event queue capacity used when none is given.
const DefaultQueueSize = 100

type call struct {
	fn     func()
	result chan error
}

// Loop serializes host events onto one goroutine.
//
// Scripts run on the loop goroutine too, so the loop is re-entrant: the
// debugger calls ProcessEvents and PumpUntil from inside a running script to
// keep the host responsive. Other goroutines hand work to the loop with Post
// and Execute.
//
// Usage:
//
//	loop := pump.New(0)
//	go reader(loop) // posts commands
//	err := loop.Run(ctx)
type Loop struct {
	queue     chan *call
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	modal atomic.Int32
	busy  atomic.Int32

	mu      sync.Mutex
	onClose []func()
	onPanic func(v any)
}

// New creates a loop with the given queue capacity.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
}

// OnClose registers fn to run on the loop goroutine when a pump observes
// that the loop was closed. The debugger uses it to stop a suspended session.
func (l *Loop) OnClose(fn func()) {
	l.mu.Lock()
	l.onClose = append(l.onClose, fn)
	l.mu.Unlock()
}

// OnPanic registers fn to receive values recovered from panicking events.
func (l *Loop) OnPanic(fn func(v any)) {
	l.mu.Lock()
	l.onPanic = fn
	l.mu.Unlock()
}

// Post queues fn without waiting for it.
func (l *Loop) Post(fn func()) error {
	if l.closed.Load() {
		return ErrClosed
	}
	select {
	case <-l.done:
		return ErrClosed
	case l.queue <- &call{fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Execute runs fn on the loop goroutine and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Execute(ctx context.Context, fn func()) error {
	if l.closed.Load() {
		return ErrClosed
	}
	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	case l.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrClosed
		}
		return err
	}
}

// Run processes events until ctx is cancelled or the loop is closed.
// The goroutine calling Run becomes the loop goroutine.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain(ctx.Err())
			return ctx.Err()
		case <-l.done:
			l.drain(ErrClosed)
			return nil
		case c := <-l.queue:
			l.dispatch(c)
		}
	}
}

// ProcessEvents handles every queued event without blocking.
func (l *Loop) ProcessEvents() {
	for {
		select {
		case c := <-l.queue:
			l.dispatch(c)
		default:
			return
		}
	}
}

// PumpUntil handles events until done reports true. It returns early when
// the loop is closed, after running the OnClose hooks.
func (l *Loop) PumpUntil(done func() bool) {
	for !done() {
		select {
		case <-l.done:
			l.runCloseHooks()
			return
		case c := <-l.queue:
			l.dispatch(c)
		}
	}
}

// BeginModal marks a modal sub-dialog as owning the loop.
func (l *Loop) BeginModal() {
	l.modal.Add(1)
}

// EndModal releases a BeginModal.
func (l *Loop) EndModal() {
	if l.modal.Add(-1) < 0 {
		l.modal.Store(0)
	}
}

// ModalActive reports whether a modal sub-dialog owns the loop.
func (l *Loop) ModalActive() bool {
	return l.modal.Load() > 0
}

// Blocking runs fn with the loop marked busy. Debugger callbacks arriving
// meanwhile are ignored.
func (l *Loop) Blocking(fn func()) {
	l.busy.Add(1)
	defer l.busy.Add(-1)
	fn()
}

// Busy reports whether a Blocking call is in progress.
func (l *Loop) Busy() bool {
	return l.busy.Load() > 0
}

// Close stops the loop. Queued events are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
}

// IsClosed returns true if the loop has been closed.
func (l *Loop) IsClosed() bool {
	return l.closed.Load()
}

// dispatch runs one event with panic recovery.
func (l *Loop) dispatch(c *call) {
	err := l.invoke(c.fn)
	if c.result != nil {
		c.result <- err
		close(c.result)
	}
}

func (l *Loop) invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			h := l.onPanic
			l.mu.Unlock()
			if h != nil {
				h(r)
			}
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("event panic: %v", v)
			}
		}
	}()
	fn()
	return nil
}

func (l *Loop) drain(err error) {
	for {
		select {
		case c := <-l.queue:
			if c.result != nil {
				c.result <- err
				close(c.result)
			}
		default:
			return
		}
	}
}

func (l *Loop) runCloseHooks() {
	l.mu.Lock()
	hooks := l.onClose
	l.onClose = nil
	l.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
