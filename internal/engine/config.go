package engine

import "time"

const (
	DefaultQueueCapacity = 100
	DefaultIdleWait      = time.Second
	DefaultMaxConcurrent = 64
)

// Config controls the processing engine.
type Config struct {
	// QueueCapacity is the initial allocation of the work queue. The queue
	// grows past it.
	QueueCapacity int
	// IdleWait is how long the poll loop sleeps on an empty queue. An enqueue
	// wakes it early.
	IdleWait time.Duration
	// MaxConcurrent bounds executions running at once. The poll loop waits for
	// a free slot before dispatching.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Running    bool   `json:"running"`
	QueueLen   int    `json:"queue_len"`
	InFlight   int64  `json:"in_flight"`
	Dispatched uint64 `json:"dispatched"`
	Stopped    uint64 `json:"stopped"`
	LoopPanics uint64 `json:"loop_panics"`
}
