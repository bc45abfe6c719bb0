package action

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockSignalReleasesAllWaiters(t *testing.T) {
	l := NewLock(false)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait()
		}()
	}
	l.Signal()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not released")
	}

	// Non-resettable: later waiters pass straight through.
	if !l.WaitTimeout(10 * time.Millisecond) {
		t.Fatal("expected lock to stay signalled")
	}
}

func TestLockWaitTimeoutReturnsWithoutSignal(t *testing.T) {
	l := NewLock(false)
	start := time.Now()
	if l.WaitTimeout(20 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before timeout elapsed")
	}
}

func TestResettableLockRearms(t *testing.T) {
	l := NewLock(true)
	l.Signal()
	if l.WaitTimeout(10 * time.Millisecond) {
		t.Fatal("resettable lock should block again after signal")
	}

	released := make(chan struct{})
	go func() {
		l.Wait()
		close(released)
	}()
	time.Sleep(10 * time.Millisecond)
	l.Signal()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter not released by second signal")
	}
}

func TestLockCloseIsTerminal(t *testing.T) {
	l := NewLock(true)
	l.Close()
	l.Close()
	l.Signal()
	if !l.Closed() {
		t.Fatal("expected closed")
	}
	if !l.WaitTimeout(10 * time.Millisecond) {
		t.Fatal("wait after close should return immediately")
	}
}

func TestLockWaitContext(t *testing.T) {
	l := NewLock(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.WaitContext(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
