package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serviceMetrics groups the Prometheus collectors for the typeauth service.
type serviceMetrics struct {
	registry *prometheus.Registry

	enrollTotal    prometheus.Counter
	trainTotal     *prometheus.CounterVec
	verifyTotal    *prometheus.CounterVec
	verifySeconds  prometheus.Histogram
	trainSeconds   prometheus.Histogram
	streamSessions prometheus.Gauge
}

func newServiceMetrics() *serviceMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &serviceMetrics{
		registry: reg,
		enrollTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "typeauthn",
			Name:      "enroll_samples_total",
			Help:      "Enrollment samples accepted into user datasets.",
		}),
		trainTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typeauthn",
			Name:      "train_total",
			Help:      "Training passes by result.",
		}, []string{"result"}),
		verifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typeauthn",
			Name:      "verify_total",
			Help:      "Verification attempts by decision.",
		}, []string{"decision"}),
		verifySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "typeauthn",
			Name:      "verify_duration_seconds",
			Help:      "Wall time of one verification attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		trainSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "typeauthn",
			Name:      "train_duration_seconds",
			Help:      "Wall time of one training pass.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		streamSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "typeauthn",
			Name:      "stream_sessions_active",
			Help:      "Open websocket verification streams.",
		}),
	}
}
