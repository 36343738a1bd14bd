package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weather_station"

// Collector captures the pipeline events worth counting. Implementations
// must be cheap because the orchestrator calls them inline per location.
type Collector interface {
	IncFetch(outcome string)
	ObserveBatch(accepted, rejected int, duration time.Duration)
	SetSnapshot(locations int, savedAt time.Time)
	ObserveProbe(latency time.Duration, accessible bool)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncFetch(string)                      {}
func (noopCollector) ObserveBatch(int, int, time.Duration) {}
func (noopCollector) SetSnapshot(int, time.Time)           {}
func (noopCollector) ObserveProbe(time.Duration, bool)     {}

// PrometheusCollector exposes pipeline metrics via Prometheus.
type PrometheusCollector struct {
	fetches         *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	batchAccepted   prometheus.Gauge
	batchRejected   prometheus.Gauge
	snapshotSize    prometheus.Gauge
	snapshotSavedAt prometheus.Gauge
	probeDuration   prometheus.Histogram
	backendUp       prometheus.Gauge
}

// NewPrometheusCollector registers the pipeline metrics with the given
// registerer (nil falls back to the default one).
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetch attempts by final outcome.",
		}, []string{"outcome"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of full batch runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		batchAccepted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_accepted",
			Help:      "Locations accepted by the last batch.",
		}),
		batchRejected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_rejected",
			Help:      "Locations rejected by the last batch.",
		}),
		snapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_locations",
			Help:      "Locations in the published snapshot.",
		}),
		snapshotSavedAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_saved_timestamp_seconds",
			Help:      "Unix time the published snapshot was saved.",
		}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_probe_duration_seconds",
			Help:      "Round-trip time of backend health probes.",
			Buckets:   prometheus.DefBuckets,
		}),
		backendUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether the last backend probe succeeded.",
		}),
	}
}

func (c *PrometheusCollector) IncFetch(outcome string) {
	c.fetches.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) ObserveBatch(accepted, rejected int, duration time.Duration) {
	c.batchDuration.Observe(duration.Seconds())
	c.batchAccepted.Set(float64(accepted))
	c.batchRejected.Set(float64(rejected))
}

func (c *PrometheusCollector) SetSnapshot(locations int, savedAt time.Time) {
	c.snapshotSize.Set(float64(locations))
	c.snapshotSavedAt.Set(float64(savedAt.Unix()))
}

func (c *PrometheusCollector) ObserveProbe(latency time.Duration, accessible bool) {
	if latency >= 0 {
		c.probeDuration.Observe(latency.Seconds())
	}
	if accessible {
		c.backendUp.Set(1)
	} else {
		c.backendUp.Set(0)
	}
}
