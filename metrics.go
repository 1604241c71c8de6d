package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// busMetrics holds the bus's prometheus instruments. A nil *busMetrics is
// valid and records nothing, so instrumentation stays optional.
type busMetrics struct {
	posted  prometheus.Counter
	invoked *prometheus.CounterVec
	errors  *prometheus.CounterVec
	panics  *prometheus.CounterVec
	spills  prometheus.Counter
}

func newBusMetrics(reg prometheus.Registerer, busName string) *busMetrics {
	labels := prometheus.Labels{"bus": busName}
	factory := promauto.With(reg)
	return &busMetrics{
		posted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventbus",
			Name:        "events_posted_total",
			Help:        "Events posted to the bus.",
			ConstLabels: labels,
		}),
		invoked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "eventbus",
			Name:        "callbacks_invoked_total",
			Help:        "Callback invocations by thread mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "eventbus",
			Name:        "callback_errors_total",
			Help:        "Callback invocations that returned an error, by thread mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "eventbus",
			Name:        "callback_panics_total",
			Help:        "Callback invocations that panicked, by thread mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		spills: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventbus",
			Name:        "async_spills_total",
			Help:        "Async invocations run on a spill goroutine because the worker queue was full.",
			ConstLabels: labels,
		}),
	}
}

func (m *busMetrics) recordPosted() {
	if m == nil {
		return
	}
	m.posted.Inc()
}

func (m *busMetrics) recordInvoked(mode ThreadMode) {
	if m == nil {
		return
	}
	m.invoked.WithLabelValues(mode.String()).Inc()
}

func (m *busMetrics) recordError(mode ThreadMode) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(mode.String()).Inc()
}

func (m *busMetrics) recordPanic(mode ThreadMode) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(mode.String()).Inc()
}

func (m *busMetrics) recordSpill() {
	if m == nil {
		return
	}
	m.spills.Inc()
}
