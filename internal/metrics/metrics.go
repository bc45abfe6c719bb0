// Package metrics exposes scheduler counters and gauges to Prometheus.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskguidance"

type Collector struct {
	enqueued      prometheus.Counter
	dispatched    prometheus.Counter
	stopped       prometheus.Counter
	rejected      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	cancellations prometheus.Counter
	reconfigured  prometheus.Counter
	queueLen      prometheus.Gauge
	inFlight      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates a collector registered on its own registry.
func New() *Collector {
	c, err := NewWith(prometheus.NewRegistry())
	if err != nil {
		// A fresh registry cannot hold duplicates.
		panic(err)
	}
	return c
}

// NewWith registers the collector's metrics on reg.
func NewWith(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_enqueued_total",
			Help:      "Actions accepted into the work queue.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dispatched_total",
			Help:      "Actions handed to an executor.",
		}),
		stopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_stopped_total",
			Help:      "Queued actions force-stopped by a drain.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_total",
			Help:      "Submissions rejected before enqueue.",
		}, []string{"reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_finished_total",
			Help:      "Executed actions by terminal status.",
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Time from dispatch to terminal status.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "global_cancellations_total",
			Help:      "Global cancellations triggered.",
		}),
		reconfigured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconfigurations_total",
			Help:      "Completed ConfigureNew calls.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Jettons waiting in the work queue.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_in_flight",
			Help:      "Actions currently executing.",
		}),
	}
	if reg != nil {
		for _, m := range []prometheus.Collector{
			c.enqueued, c.dispatched, c.stopped, c.rejected, c.outcomes,
			c.latency, c.cancellations, c.reconfigured, c.queueLen, c.inFlight,
		} {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c, nil
}

func (c *Collector) Enqueued(queueLen int) {
	if c == nil {
		return
	}
	c.enqueued.Inc()
	c.queueLen.Set(float64(queueLen))
}

func (c *Collector) Dispatched(queueLen int) {
	if c == nil {
		return
	}
	c.dispatched.Inc()
	c.queueLen.Set(float64(queueLen))
	c.inFlight.Inc()
}

// Finished records the terminal status of an executed action.
func (c *Collector) Finished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.outcomes.WithLabelValues(status).Inc()
	c.latency.WithLabelValues(status).Observe(d.Seconds())
}

// Stopped records n jettons drained without running.
func (c *Collector) Stopped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.stopped.Add(float64(n))
	c.queueLen.Set(0)
}

// Rejected records a submission refused before enqueue.
func (c *Collector) Rejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Cancelled() {
	if c == nil {
		return
	}
	c.cancellations.Inc()
}

func (c *Collector) Reconfigured() {
	if c == nil {
		return
	}
	c.reconfigured.Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
