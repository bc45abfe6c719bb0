package activity

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-memory fanout of activities to subscribers.
//
// Contract:
//   - Log never blocks.
//   - Subscribers get buffered channels.
//   - Slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Activity
	seq  atomic.Uint64
}

// NewBus returns an empty bus. It owns no goroutines.
func NewBus() *Bus {
	return &Bus{subs: map[uint64]chan Activity{}}
}

func (b *Bus) Log(a Activity) {
	if b == nil {
		return
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	// Snapshot subscribers so Log doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Activity, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- a:
			default:
			}
		}()
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes ch.
func (b *Bus) Subscribe(buffer int) (<-chan Activity, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Activity, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Recorder collects every activity in memory. Tests use it to assert on the
// exact sequence of events a component produced.
type Recorder struct {
	mu   sync.Mutex
	list []Activity
}

func (r *Recorder) Log(a Activity) {
	r.mu.Lock()
	r.list = append(r.list, a)
	r.mu.Unlock()
}

// Activities returns a copy of everything recorded so far.
func (r *Recorder) Activities() []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Activity(nil), r.list...)
}

// Filter returns recorded activities with the given subject and event.
// An empty subject or event matches anything.
func (r *Recorder) Filter(subject, event string) []Activity {
	var out []Activity
	for _, a := range r.Activities() {
		if (subject == "" || a.Subject == subject) && (event == "" || a.Event == event) {
			out = append(out, a)
		}
	}
	return out
}
