// Package metrics exposes scheduler counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	tasksScheduled  prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	tasksFailed     prometheus.Counter
	tasksCancelled  prometheus.Counter
	tasksRetried    prometheus.Counter
	rateLimited     prometheus.Counter

	executionSeconds prometheus.Histogram
	tasksInFlight    prometheus.Gauge
}

// NewCollector builds and registers the collectors on the given registerer,
// typically prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_scheduled_total",
			Help: "Total number of tasks accepted for scheduling",
		}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to handlers",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_failed_total",
			Help: "Total number of failed execution attempts",
		}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_cancelled_total",
			Help: "Total number of tasks terminated as cancelled",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_tasks_retried_total",
			Help: "Total number of failed tasks requeued for retry",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_rate_limited_total",
			Help: "Total number of dispatches delayed by rate limits",
		}),
		executionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contentflow_execution_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentflow_tasks_in_flight",
			Help: "Current number of running tasks",
		}),
	}
	reg.MustRegister(
		c.tasksScheduled, c.tasksDispatched, c.tasksCompleted, c.tasksFailed,
		c.tasksCancelled, c.tasksRetried, c.rateLimited,
		c.executionSeconds, c.tasksInFlight,
	)
	return c
}

func (c *Collector) RecordScheduled() { c.tasksScheduled.Inc() }

func (c *Collector) RecordDispatch() {
	c.tasksDispatched.Inc()
	c.tasksInFlight.Inc()
}

func (c *Collector) RecordCompleted(d time.Duration) {
	c.tasksCompleted.Inc()
	c.tasksInFlight.Dec()
	c.executionSeconds.Observe(d.Seconds())
}

func (c *Collector) RecordFailed(d time.Duration) {
	c.tasksFailed.Inc()
	c.tasksInFlight.Dec()
	c.executionSeconds.Observe(d.Seconds())
}

func (c *Collector) RecordCancelled()   { c.tasksCancelled.Inc() }
func (c *Collector) RecordRetried()     { c.tasksRetried.Inc() }
func (c *Collector) RecordRateLimited() { c.rateLimited.Inc() }
