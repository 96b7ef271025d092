package gobayeux

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gobayeux"

// exchange outcomes
const (
	outcomeSuccess       = "success"
	outcomeConnectFailed = "connect_failed"
	outcomeException     = "exception"
	outcomeExpired       = "expired"
	outcomeProtocolError = "protocol_error"
	outcomeAborted       = "aborted"
)

type transportMetrics struct {
	inFlight  prometheus.Gauge
	queued    prometheus.Gauge
	exchanges *prometheus.CounterVec
	duration  prometheus.Histogram
}

// newTransportMetrics creates the collectors of one transport. They are only
// exported when reg is not nil; a collector already registered by another
// session is shared.
func newTransportMetrics(reg prometheus.Registerer, transport string) *transportMetrics {
	labels := prometheus.Labels{"transport": transport}
	m := &transportMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "transport",
			Name:        "exchanges_in_flight",
			Help:        "Number of HTTP exchanges currently in flight.",
			ConstLabels: labels,
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "transport",
			Name:        "exchanges_queued",
			Help:        "Number of HTTP exchanges waiting for a free slot.",
			ConstLabels: labels,
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "transport",
			Name:        "exchanges_total",
			Help:        "Completed HTTP exchanges by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "transport",
			Name:        "exchange_duration_seconds",
			Help:        "Duration of HTTP exchanges.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
	}
	if reg == nil {
		return m
	}
	m.inFlight = register(reg, m.inFlight)
	m.queued = register(reg, m.queued)
	m.exchanges = register(reg, m.exchanges)
	m.duration = register(reg, m.duration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *transportMetrics) observe(queued, inFlight int) {
	m.queued.Set(float64(queued))
	m.inFlight.Set(float64(inFlight))
}
