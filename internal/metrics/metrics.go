// Package metrics holds the Prometheus collectors shared by the server and
// the client cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "user_table"

// Outcome labels for Operations.
const (
	OutcomeOK           = "ok"
	OutcomeNotFound     = "not_found"
	OutcomeInvalidInput = "invalid_input"
	OutcomeError        = "error"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations       *prometheus.CounterVec
	Users            prometheus.Gauge
	EventSubscribers prometheus.Gauge
	DroppedEvents    prometheus.Counter

	CacheWrites      prometheus.Counter
	CacheBroadcasts  prometheus.Counter
	WatchEvaluations *prometheus.CounterVec
	DocumentCache    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "User operations served, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		Users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Users currently held by the store.",
		}),
		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Open user event subscriptions.",
		}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "User events dropped because a subscriber was not keeping up.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Normalized cache writes.",
		}),
		CacheBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "broadcasts_total",
			Help:      "Change broadcasts delivered to watches.",
		}),
		WatchEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "watch_evaluations_total",
			Help:      "Watch re-evaluations, by watch kind.",
		}, []string{"kind"}),
		DocumentCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "lookups_total",
			Help:      "Parsed document cache lookups, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Operations,
			m.Users,
			m.EventSubscribers,
			m.DroppedEvents,
			m.CacheWrites,
			m.CacheBroadcasts,
			m.WatchEvaluations,
			m.DocumentCache,
		)
	}
	return m
}

// ObserveOperation counts one served operation.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// SetUsers records the store size.
func (m *Metrics) SetUsers(n int) {
	if m == nil {
		return
	}
	m.Users.Set(float64(n))
}

// SubscriberOpened and SubscriberClosed track open event subscriptions.
func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.EventSubscribers.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.EventSubscribers.Dec()
}

// EventDropped counts an event a slow subscriber missed.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// CacheWrite counts a normalized cache write.
func (m *Metrics) CacheWrite() {
	if m == nil {
		return
	}
	m.CacheWrites.Inc()
}

// CacheBroadcast counts a change broadcast.
func (m *Metrics) CacheBroadcast() {
	if m == nil {
		return
	}
	m.CacheBroadcasts.Inc()
}

// WatchEvaluated counts one watch re-evaluation.
func (m *Metrics) WatchEvaluated(kind string) {
	if m == nil {
		return
	}
	m.WatchEvaluations.WithLabelValues(kind).Inc()
}

// DocumentLookup counts a parsed document cache hit or miss.
func (m *Metrics) DocumentLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DocumentCache.WithLabelValues(result).Inc()
}
