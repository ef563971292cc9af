// Package metrics exposes Prometheus collectors for the worker pool.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Dispatch routes, see scheduler task routing.
const (
	RouteIdle  = "idle"
	RouteSpawn = "spawn"
	RouteBusy  = "busy"
)

// Pool holds the scheduler's collectors. A nil *Pool is valid and records
// nothing.
type Pool struct {
	IdleWorkers    prometheus.Gauge
	BusyWorkers    prometheus.Gauge
	WorkersStarted prometheus.Counter
	Dispatched     *prometheus.CounterVec
	CachedModules  prometheus.Gauge
	MessageErrors  *prometheus.CounterVec
}

// NewPool creates the collectors and registers them with reg when reg is
// non-nil.
func NewPool(reg prometheus.Registerer) *Pool {
	p := &Pool{
		IdleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_idle_workers", Help: "Workers able to accept more work",
		}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_busy_workers", Help: "Workers blocked on long-running work",
		}),
		WorkersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadpool_workers_started_total", Help: "Workers created by the scheduler",
		}),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "threadpool_tasks_dispatched_total", Help: "Tasks routed to a worker"},
			[]string{"route"},
		),
		CachedModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_cached_modules", Help: "Entries in the scheduler module cache",
		}),
		MessageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "threadpool_message_errors_total", Help: "Mailbox messages that failed to execute"},
			[]string{"message"},
		),
	}
	if reg != nil {
		reg.MustRegister(p.Collectors()...)
	}
	return p
}

// Collectors returns every collector owned by p.
func (p *Pool) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.IdleWorkers, p.BusyWorkers, p.WorkersStarted,
		p.Dispatched, p.CachedModules, p.MessageErrors,
	}
}

// SetPool records the current pool partition sizes.
func (p *Pool) SetPool(idle, busy int) {
	if p == nil {
		return
	}
	p.IdleWorkers.Set(float64(idle))
	p.BusyWorkers.Set(float64(busy))
}

// WorkerStarted counts a newly created worker.
func (p *Pool) WorkerStarted() {
	if p == nil {
		return
	}
	p.WorkersStarted.Inc()
}

// Dispatch counts a task routed via route.
func (p *Pool) Dispatch(route string) {
	if p == nil {
		return
	}
	p.Dispatched.WithLabelValues(route).Inc()
}

// SetCachedModules records the module cache size.
func (p *Pool) SetCachedModules(n int) {
	if p == nil {
		return
	}
	p.CachedModules.Set(float64(n))
}

// MessageError counts a failed message of the given kind.
func (p *Pool) MessageError(kind string) {
	if p == nil {
		return
	}
	p.MessageErrors.WithLabelValues(kind).Inc()
}

// Tasks holds the API's task collectors. A nil *Tasks records nothing.
type Tasks struct {
	Submitted *prometheus.CounterVec
	Finished  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

// NewTasks creates the task collectors and registers them with reg when
// reg is non-nil.
func NewTasks(reg prometheus.Registerer) *Tasks {
	t := &Tasks{
		Submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "threadpool_tasks_submitted_total", Help: "Tasks accepted by the API"},
			[]string{"kind"},
		),
		Finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "threadpool_tasks_finished_total", Help: "Tasks that reached a terminal state"},
			[]string{"kind", "state"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadpool_task_duration_seconds",
				Help:    "Time a task spent running on a worker",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(t.Submitted, t.Finished, t.Duration)
	}
	return t
}

// Submit counts an accepted task.
func (t *Tasks) Submit(kind string) {
	if t == nil {
		return
	}
	t.Submitted.WithLabelValues(kind).Inc()
}

// Finish counts a task ending in state after running for seconds.
func (t *Tasks) Finish(kind, state string, seconds float64) {
	if t == nil {
		return
	}
	t.Finished.WithLabelValues(kind, state).Inc()
	if seconds >= 0 {
		t.Duration.WithLabelValues(kind).Observe(seconds)
	}
}
