package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskguidance/internal/activity"
	logx "taskguidance/pkg/logx"
)

// Sink is an activity.Logger that persists activities on a background
// goroutine. Log never blocks; when the buffer is full the activity is dropped.
type Sink struct {
	store    Store
	log      logx.Logger
	minLevel activity.Level

	ch      chan activity.Activity
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewSink starts the writer goroutine. Activities below minLevel are ignored.
func NewSink(store Store, log logx.Logger, minLevel activity.Level, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Sink{
		store:    store,
		log:      log,
		minLevel: minLevel,
		ch:       make(chan activity.Activity, buffer),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) Log(a activity.Activity) {
	if s == nil || a.Level < s.minLevel || s.closed.Load() {
		return
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	// Close may race with a send; recover from the closed channel.
	defer func() { _ = recover() }()
	select {
	case s.ch <- a:
	default:
		s.dropped.Add(1)
	}
}

// Dropped is the number of activities lost to a full buffer.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

func (s *Sink) run() {
	defer close(s.done)
	for a := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.store.Append(ctx, FromActivity(a)); err != nil {
			s.log.Debug("ledger append failed", logx.String("event", a.Event), logx.Err(err))
		}
		cancel()
	}
}

// Close flushes buffered activities and waits for the writer, or ctx.
// The store itself stays open.
func (s *Sink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
