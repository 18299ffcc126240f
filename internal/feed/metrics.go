package feed

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the attempts counter.
const (
	OutcomeAccepted  = "accepted"
	OutcomeErrored   = "errored"
	OutcomeDiscarded = "discarded"
)

// Metrics holds the Prometheus collectors shared by every source of a registry.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	loading  *prometheus.GaugeVec
}

// NewMetrics creates the feed collectors and registers them on reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dashboard",
				Subsystem: "feed",
				Name:      "attempts_total",
				Help:      "Resolved fetch attempts by feed and outcome.",
			},
			[]string{"feed", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dashboard",
				Subsystem: "feed",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of feed fetches.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"feed"},
		),
		loading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dashboard",
				Subsystem: "feed",
				Name:      "loading",
				Help:      "1 while the feed has an attempt awaiting resolution.",
			},
			[]string{"feed"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.duration, m.loading)
	}
	return m
}

func (m *Metrics) observeAttempt(feed, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(feed, outcome).Inc()
	m.duration.WithLabelValues(feed).Observe(took.Seconds())
}

func (m *Metrics) setLoading(feed string, loading bool) {
	if m == nil {
		return
	}
	v := 0.0
	if loading {
		v = 1
	}
	m.loading.WithLabelValues(feed).Set(v)
}
