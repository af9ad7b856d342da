package chunk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Download results recorded by Metrics.
const (
	resultDownloaded = "downloaded"
	resultCached     = "cached"
	resultFailed     = "failed"
)

// Metrics records chunk download counters. A nil *Metrics records nothing.
type Metrics struct {
	downloads *prometheus.CounterVec
	bytes     prometheus.Counter
	duration  prometheus.Histogram
	inflight  prometheus.Gauge
}

// NewMetrics creates chunk metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mochi_chunk_downloads_total", Help: "Chunk fetches by result"},
			[]string{"result"},
		),
		bytes:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mochi_chunk_download_bytes_total", Help: "Raw chunk bytes written to the cache"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "mochi_chunk_download_duration_seconds", Help: "Time spent per chunk download", Buckets: prometheus.DefBuckets}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mochi_chunk_downloads_inflight", Help: "Chunk downloads in flight"}),
	}
	for _, c := range []prometheus.Collector{m.downloads, m.bytes, m.duration, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) start() func(result string, n int64) {
	if m == nil {
		return func(string, int64) {}
	}
	begin := time.Now()
	m.inflight.Inc()
	return func(result string, n int64) {
		m.inflight.Dec()
		m.downloads.WithLabelValues(result).Inc()
		if result == resultDownloaded {
			m.bytes.Add(float64(n))
			m.duration.Observe(time.Since(begin).Seconds())
		}
	}
}

func (m *Metrics) cached() {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(resultCached).Inc()
}
