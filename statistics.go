package dtvm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Statistics records per-phase timing and trap/gas counters for one Runtime
// (spec.md §6 "enable_statistics"). Each Runtime gets its own *prometheus.
// Registry rather than registering into prometheus.DefaultRegisterer,
// mirroring open-policy-agent/opa's metrics.GlobalMetricsRegistry pattern
// (metrics/prometheus.go): a shared global registry panics on duplicate
// collector registration the moment a process creates a second Runtime,
// which the teacher's own test suite does routinely.
type Statistics struct {
	registry *prometheus.Registry

	loadDuration        prometheus.Histogram
	instantiateDuration prometheus.Histogram
	executeDuration     prometheus.Histogram
	gasConsumed         prometheus.Counter
	traps               *prometheus.CounterVec
}

// NewStatistics returns a Statistics with its own dedicated registry.
func NewStatistics() *Statistics {
	s := &Statistics{
		registry: prometheus.NewRegistry(),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtvm",
			Name:      "load_duration_seconds",
			Help:      "Time spent decoding and validating a module.",
		}),
		instantiateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtvm",
			Name:      "instantiate_duration_seconds",
			Help:      "Time spent instantiating a module into an Instance.",
		}),
		executeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtvm",
			Name:      "execute_duration_seconds",
			Help:      "Time spent inside Instance.Call.",
		}),
		gasConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtvm",
			Name:      "gas_consumed_total",
			Help:      "Cumulative gas debited across all instances.",
		}),
		traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dtvm",
			Name:      "traps_total",
			Help:      "Execution traps raised, labeled by error kind.",
		}, []string{"kind"}),
	}
	s.registry.MustRegister(s.loadDuration, s.instantiateDuration, s.executeDuration, s.gasConsumed, s.traps)
	return s
}

// Registry exposes the dedicated registry so an embedder can serve it
// through its own /metrics handler.
func (s *Statistics) Registry() *prometheus.Registry { return s.registry }

func (s *Statistics) observeLoad(d time.Duration)        { s.loadDuration.Observe(d.Seconds()) }
func (s *Statistics) observeInstantiate(d time.Duration) { s.instantiateDuration.Observe(d.Seconds()) }
func (s *Statistics) observeExecute(d time.Duration)     { s.executeDuration.Observe(d.Seconds()) }

func (s *Statistics) addGasConsumed(delta uint64) { s.gasConsumed.Add(float64(delta)) }

func (s *Statistics) recordTrap(kind string) { s.traps.WithLabelValues(kind).Inc() }
