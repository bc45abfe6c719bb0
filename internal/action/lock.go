package action

import (
	"context"
	"sync"
	"time"
)

// Lock is a manual-reset event backed by a channel.
//
// Signal releases every current waiter. A resettable lock re-arms right after
// signalling, so later waiters block again; a non-resettable lock stays open.
// After Close, Signal is a no-op and waits return immediately.
type Lock struct {
	resettable bool

	mu       sync.Mutex
	ch       chan struct{}
	released bool // ch is closed
	closed   bool
}

func NewLock(resettable bool) *Lock {
	return &Lock{resettable: resettable, ch: make(chan struct{})}
}

// Signal wakes all waiters.
func (l *Lock) Signal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.released {
		return
	}
	close(l.ch)
	if l.resettable {
		l.ch = make(chan struct{})
		return
	}
	l.released = true
}

// Close disposes the lock and releases anyone still waiting.
func (l *Lock) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if !l.released {
		close(l.ch)
		l.released = true
	}
}

// Closed reports whether Close was called.
func (l *Lock) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Lock) channel() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch
}

// Wait blocks until the lock is signalled or closed.
func (l *Lock) Wait() {
	<-l.channel()
}

// WaitTimeout reports whether the lock opened within d.
func (l *Lock) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.channel():
		return true
	case <-t.C:
		return false
	}
}

// WaitContext blocks until the lock opens or ctx is done.
func (l *Lock) WaitContext(ctx context.Context) error {
	select {
	case <-l.channel():
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
