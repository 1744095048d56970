package scheduler

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	refreshes *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// newMetrics registers the scheduler's instruments. Each identity gets
// its own scheduler, so the identity rides along as a const label and
// shared registries stay conflict-free.
func newMetrics(reg prometheus.Registerer, identity string) *metrics {
	m := &metrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "csgmeter_bucket_refreshes_total",
				Help:        "Bucket refresh attempts by outcome.",
				ConstLabels: prometheus.Labels{"identity": identity},
			},
			[]string{"bucket", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "csgmeter_bucket_refresh_duration_seconds",
				Help:        "Time spent refreshing a bucket.",
				ConstLabels: prometheus.Labels{"identity": identity},
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"bucket"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.duration)
	}
	return m
}
