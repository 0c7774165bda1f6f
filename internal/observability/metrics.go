package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GraphCollector bundles Prometheus metrics for slice graph mutations
// and provides a ready /metrics handler, adapted from the teacher's
// NBICollector (which wrapped gRPC RPC counters) to HTTP mutation
// counters since this control plane is REST/JSON, not gRPC.
type GraphCollector struct {
	gatherer prometheus.Gatherer

	MutationsTotal    *prometheus.CounterVec
	QoSBetweenLatency prometheus.Histogram

	SliceRUs   *prometheus.GaugeVec
	SliceUEs   *prometheus.GaugeVec
	SliceEdges *prometheus.GaugeVec
}

// NewGraphCollector registers graph metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewGraphCollector(reg prometheus.Registerer) (*GraphCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slice_mutations_total",
		Help: "Total number of slice graph mutations, labeled by slice, operation, and result.",
	}, []string{"slice", "operation", "result"})
	mutations, err := registerCounterVec(reg, mutations, "slice_mutations_total")
	if err != nil {
		return nil, err
	}

	qosLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qos_between_duration_seconds",
		Help:    "Latency of qos_between path queries.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	})
	qosLatency, err = registerHistogram(reg, qosLatency, "qos_between_duration_seconds")
	if err != nil {
		return nil, err
	}

	rus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slice_ru_count",
		Help: "Current number of RU nodes in a slice.",
	}, []string{"slice"})
	rus, err = registerGaugeVec(reg, rus, "slice_ru_count")
	if err != nil {
		return nil, err
	}

	ues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slice_ue_count",
		Help: "Current number of UE nodes in a slice.",
	}, []string{"slice"})
	ues, err = registerGaugeVec(reg, ues, "slice_ue_count")
	if err != nil {
		return nil, err
	}

	edges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slice_edge_count",
		Help: "Current number of EDGE nodes in a slice.",
	}, []string{"slice"})
	edges, err = registerGaugeVec(reg, edges, "slice_edge_count")
	if err != nil {
		return nil, err
	}

	return &GraphCollector{
		gatherer:          gatherer,
		MutationsTotal:    mutations,
		QoSBetweenLatency: qosLatency,
		SliceRUs:          rus,
		SliceUEs:          ues,
		SliceEdges:        edges,
	}, nil
}

// RecordMutation increments the mutation counter for the given slice,
// operation name (the HTTP layer records "define_slice", "add_RU",
// "materialize" and "move_node"), and result
// ("ok" or "error").
func (c *GraphCollector) RecordMutation(slice, operation string, err error) {
	if c == nil || c.MutationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.MutationsTotal.WithLabelValues(slice, operation, result).Inc()
}

// SetSliceCounts updates the per-slice gauge trio.
func (c *GraphCollector) SetSliceCounts(slice string, rus, ues, edges int) {
	if c == nil {
		return
	}
	if c.SliceRUs != nil {
		c.SliceRUs.WithLabelValues(slice).Set(float64(rus))
	}
	if c.SliceUEs != nil {
		c.SliceUEs.WithLabelValues(slice).Set(float64(ues))
	}
	if c.SliceEdges != nil {
		c.SliceEdges.WithLabelValues(slice).Set(float64(edges))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GraphCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
