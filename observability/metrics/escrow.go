package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Escrow tracks engine operation outcomes by RPC method.
type Escrow struct {
	operations *prometheus.CounterVec
}

// NewEscrow builds the operation counters and registers them with the given
// registerer (pass the gateway observability registry so everything is served
// from one /metrics endpoint).
func NewEscrow(reg prometheus.Registerer) *Escrow {
	m := &Escrow{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampay",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Count of escrow operations segmented by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations)
	}
	return m
}

// Observe records one operation outcome.
func (m *Escrow) Observe(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
}
