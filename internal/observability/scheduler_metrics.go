package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GeocodeCollector exposes metrics for the geocoding LRU cache,
// adapted from the teacher's SchedulerCollector (which tracked a
// contact-window cache hit ratio) to the geocode cache's hit ratio and
// lookup latency.
type GeocodeCollector struct {
	gatherer prometheus.Gatherer

	LookupDuration prometheus.Histogram
	CacheSize      prometheus.Gauge
	CacheHitRatio  prometheus.Gauge
}

// NewGeocodeCollector registers geocode cache metrics against the
// provided registerer.
func NewGeocodeCollector(reg prometheus.Registerer) (*GeocodeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lookupHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geocode_lookup_duration_seconds",
		Help:    "Duration of geocode/reverse-geocode lookups, including cache misses.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	lookupHistogram, err := registerHistogram(reg, lookupHistogram, "geocode_lookup_duration_seconds")
	if err != nil {
		return nil, err
	}

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocode_cache_size",
		Help: "Number of entries currently held in the unbounded geocode LRU cache.",
	})
	cacheSize, err = registerGauge(reg, cacheSize, "geocode_cache_size")
	if err != nil {
		return nil, err
	}

	hitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocode_cache_hit_ratio",
		Help: "Hit ratio for the geocode cache.",
	})
	hitRatio, err = registerGauge(reg, hitRatio, "geocode_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	return &GeocodeCollector{
		gatherer:       gatherer,
		LookupDuration: lookupHistogram,
		CacheSize:      cacheSize,
		CacheHitRatio:  hitRatio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *GeocodeCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveLookup records a geocode/reverse-geocode lookup duration.
func (c *GeocodeCollector) ObserveLookup(d time.Duration) {
	if c == nil || c.LookupDuration == nil {
		return
	}
	c.LookupDuration.Observe(d.Seconds())
}

// SetCacheSize updates the cache size gauge.
func (c *GeocodeCollector) SetCacheSize(n int) {
	if c == nil || c.CacheSize == nil {
		return
	}
	c.CacheSize.Set(float64(n))
}

// SetHitRatio sets the cache hit ratio, clamped to [0, 1].
func (c *GeocodeCollector) SetHitRatio(ratio float64) {
	if c == nil || c.CacheHitRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.CacheHitRatio.Set(ratio)
}
