// Package metrics exposes Prometheus counters for bus arbitration outcomes
// and client queue backpressure.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mlanger/ebusgw/bus"
)

// Registry bundles the counters the adapter reports. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	ArbitrationTotal    prometheus.Counter
	ArbitrationRestarts *prometheus.CounterVec
	ArbitrationWon      *prometheus.CounterVec
	ArbitrationLost     *prometheus.CounterVec
	ArbitrationLate     prometheus.Counter
	ArbitrationErrors   prometheus.Counter

	QueueDropped prometheus.Counter

	TelegramsValid   *prometheus.CounterVec
	TelegramsInvalid *prometheus.CounterVec

	mu   sync.Mutex
	prev bus.Counters
}

// NewRegistry registers and returns the adapter's metric set against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		ArbitrationTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "rounds_total",
			Help:      "Number of arbitration round-1 attempts started.",
		}),
		ArbitrationRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "restarts_total",
			Help:      "Arbitration start attempts deferred because the bus was busy, by round.",
		}, []string{"round"}),
		ArbitrationWon: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "won_total",
			Help:      "Arbitration rounds won, by round.",
		}, []string{"round"}),
		ArbitrationLost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "lost_total",
			Help:      "Arbitration rounds lost, by round.",
		}, []string{"round"}),
		ArbitrationLate: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "late_starts_total",
			Help:      "SYNs arriving before the minimum guard interval elapsed.",
		}),
		ArbitrationErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "arbitration",
			Name:      "errors_total",
			Help:      "Arbitration rounds aborted on a framing anomaly.",
		}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Client events dropped because the fan-out queue was full.",
		}),
		TelegramsValid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "telegram",
			Name:      "valid_total",
			Help:      "Telegrams that parsed and validated successfully, by type.",
		}, []string{"type"}),
		TelegramsInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ebusgw",
			Subsystem: "telegram",
			Name:      "invalid_total",
			Help:      "Telegrams rejected during parsing, by reason.",
		}, []string{"reason"}),
	}
}

// ObserveArbitration folds the growth of c since the last call into the
// registry's counters. c is the Arbitrator's cumulative Counters snapshot;
// Prometheus counters only accept monotonic adds, so the registry tracks
// the previous snapshot itself.
func (r *Registry) ObserveArbitration(c bus.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ArbitrationTotal.Add(float64(c.Total - r.prev.Total))
	r.ArbitrationRestarts.WithLabelValues("1").Add(float64(c.Restarts1 - r.prev.Restarts1))
	r.ArbitrationRestarts.WithLabelValues("2").Add(float64(c.Restarts2 - r.prev.Restarts2))
	r.ArbitrationWon.WithLabelValues("1").Add(float64(c.Won1 - r.prev.Won1))
	r.ArbitrationWon.WithLabelValues("2").Add(float64(c.Won2 - r.prev.Won2))
	r.ArbitrationLost.WithLabelValues("1").Add(float64(c.Lost1 - r.prev.Lost1))
	r.ArbitrationLost.WithLabelValues("2").Add(float64(c.Lost2 - r.prev.Lost2))
	r.ArbitrationLate.Add(float64(c.Late - r.prev.Late))
	r.ArbitrationErrors.Add(float64(c.Errors - r.prev.Errors))
	r.prev = c
}
