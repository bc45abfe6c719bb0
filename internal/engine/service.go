// Package engine drains the priority work queue and runs each jetton's
// lifecycle on a bounded pool of supervised goroutines.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"taskguidance/internal/action"
	"taskguidance/internal/activity"
	"taskguidance/internal/metrics"
	"taskguidance/internal/queue"
	rtsup "taskguidance/internal/runtime/supervisor"
	logx "taskguidance/pkg/logx"
)

const (
	Entity = "ProcessingEngine"

	EventStarted       = "Started"
	EventEnqueued      = "Enqueued"
	EventDequeued      = "Dequeued"
	EventDispatched    = "Dispatched"
	EventFinished      = "ExecutionFinished"
	EventWaiting       = "Waiting"
	EventStopRequested = "StopRequested"
	EventForceStopping = "ForceStopping"

	ParamEventKey = "EventKey"
	ParamPriority = "Priority"
	ParamStatus   = "Status"
	ParamDuration = "Duration"
	ParamQueueLen = "QueueLength"
	ParamDrained  = "Drained"
)

// loopStopTimeout bounds how long Stop waits for the poll loop to exit.
const loopStopTimeout = 5 * time.Second

// Service is the processing engine. Start, Stop and Start again is supported.
type Service struct {
	cfg     Config
	log     logx.Logger
	act     activity.Logger
	metrics *metrics.Collector

	queue *queue.Priority[*action.Jetton, action.Priority]
	sem   *semaphore.Weighted
	wake  chan struct{}
	idle  *rate.Limiter

	// workers hosts executions. It outlives loop restarts so a Stop never
	// interrupts work that was already dispatched.
	workers *rtsup.Supervisor

	mu   sync.Mutex
	loop *rtsup.Supervisor

	inFlight   atomic.Int64
	dispatched atomic.Uint64
	stopped    atomic.Uint64
}

// New creates an idle engine. act and m may be nil.
func New(cfg Config, log logx.Logger, act activity.Logger, m *metrics.Collector) *Service {
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "engine"))
	return &Service{
		cfg:     cfg,
		log:     log,
		act:     act,
		metrics: m,
		queue:   queue.New[*action.Jetton, action.Priority](cfg.QueueCapacity),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:    make(chan struct{}, 1),
		idle:    rate.NewLimiter(rate.Every(30*time.Second), 1),
		workers: rtsup.New(context.Background(), rtsup.WithLogger(log)),
	}
}

func (s *Service) Config() Config { return s.cfg }

// Start runs the poll loop until ctx is cancelled or Stop is called.
// A loop from a previous Start is cancelled first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.loop != nil {
		s.loop.Cancel()
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.loop = sup
	s.mu.Unlock()

	sup.GoRestart("engine.poll", s.poll)
	s.emit(activity.New(Entity, EventStarted, activity.LevelDebug).
		With(ParamQueueLen, s.queue.Len()))
	s.log.Info("engine started",
		logx.Int("queue_capacity", s.cfg.QueueCapacity),
		logx.Duration("idle_wait", s.cfg.IdleWait),
		logx.Int("max_concurrent", s.cfg.MaxConcurrent))
}

// Running reports whether a poll loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil && s.loop.Context().Err() == nil
}

// Enqueue adds j to the work queue under its action's priority.
func (s *Service) Enqueue(j *action.Jetton) {
	p := j.Action().Priority()
	s.queue.Enqueue(j, p)
	n := s.queue.Len()
	s.emit(activity.New(Entity, EventEnqueued, activity.LevelVerbose).
		With(ParamEventKey, j.EventKey()).
		With(ParamPriority, p.String()).
		With(ParamQueueLen, n))
	s.metrics.Enqueued(n)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) poll(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		j, _, ok := s.queue.TryDequeue()
		if !ok {
			if s.idle.Allow() {
				s.emit(activity.New(Entity, EventWaiting, activity.LevelVerbose).
					Describe("queue empty, sleeping %s", s.cfg.IdleWait))
			}
			t := time.NewTimer(s.cfg.IdleWait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-s.wake:
				t.Stop()
			case <-t.C:
			}
			continue
		}

		s.emit(activity.New(Entity, EventDequeued, activity.LevelVerbose).
			With(ParamEventKey, j.EventKey()))
		if err := s.dispatch(ctx, j); err != nil {
			return err
		}
	}
}

// dispatch waits for an execution slot and hands j to a worker. If ctx ends
// first, j goes back on the queue for the next loop or a drain.
func (s *Service) dispatch(ctx context.Context, j *action.Jetton) error {
	err := s.sem.Acquire(ctx, 1)
	if err == nil && ctx.Err() != nil {
		s.sem.Release(1)
		err = ctx.Err()
	}
	if err != nil {
		s.queue.Enqueue(j, j.Action().Priority())
		return err
	}

	s.workers.Go("action."+j.Action().Name(), func(wctx context.Context) error {
		defer s.sem.Release(1)
		s.execute(wctx, j)
		return nil
	})
	return nil
}

func (s *Service) execute(ctx context.Context, j *action.Jetton) {
	start := time.Now()
	s.inFlight.Add(1)
	s.dispatched.Add(1)
	s.metrics.Dispatched(s.queue.Len())
	s.emit(activity.New(Entity, EventDispatched, activity.LevelVerbose).
		With(ParamEventKey, j.EventKey()))

	action.Perform(ctx, j)

	d := time.Since(start)
	status := j.Status()
	s.inFlight.Add(-1)
	s.metrics.Finished(status.String(), d)
	s.emit(activity.New(Entity, EventFinished, activity.LevelDebug).
		With(ParamEventKey, j.EventKey()).
		With(ParamStatus, status.String()).
		With(ParamDuration, d))
}

// Stop ends the poll loop and drains the queue. Every drained jetton is moved
// to Stopped without running and its waiters are released. Executions already
// dispatched keep running. It returns the number of drained jettons.
func (s *Service) Stop() int {
	s.emit(activity.New(Entity, EventStopRequested, activity.LevelDebug).
		With(ParamQueueLen, s.queue.Len()))

	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	s.mu.Unlock()
	if loop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), loopStopTimeout)
		if err := loop.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("engine loop stop", logx.Err(err))
		}
		cancel()
	}

	n := 0
	for {
		j, _, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		if err := j.MoveToStopped(); err != nil {
			s.emit(activity.New(Entity, EventForceStopping, activity.LevelWarn).
				With(ParamEventKey, j.EventKey()).
				With("error", err))
		} else {
			s.emit(activity.New(Entity, EventForceStopping, activity.LevelDebug).
				With(ParamEventKey, j.EventKey()))
		}
		j.Unbind()
		j.Release()
		j.FreeBlockingResources()
		n++
	}
	s.stopped.Add(uint64(n))
	s.metrics.Stopped(n)
	if n > 0 {
		s.log.Info("engine drained", logx.Int("stopped", n))
	}
	return n
}

// Shutdown stops the engine and waits for dispatched executions. When ctx
// ends first, executions still running are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Stop()
	if err := s.workers.Wait(ctx); err != nil {
		s.workers.Cancel()
		return err
	}
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	snap := Snapshot{
		QueueLen:   s.queue.Len(),
		InFlight:   s.inFlight.Load(),
		Dispatched: s.dispatched.Load(),
		Stopped:    s.stopped.Load(),
	}
	if loop != nil {
		snap.Running = loop.Context().Err() == nil
		snap.LoopPanics = loop.Counters().Panics
	}
	return snap
}

func (s *Service) emit(a activity.Activity) {
	activity.Emit(s.act, a)
}
