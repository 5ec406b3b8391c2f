package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec // by result
	records  prometheus.Counter
}

// newMetrics creates the collector metrics, registering them only when reg
// is not nil.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "collector",
			Name:      "requests_total",
			Help:      "Request bodies handled, by result",
		}, []string{"result"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "collector",
			Name:      "records_total",
			Help:      "Observation records in accepted batches",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.requests, m.records} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) request(result string) {
	m.requests.WithLabelValues(result).Inc()
}
