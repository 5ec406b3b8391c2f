package beacon

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	uploadAttemptFirst = "first"
	uploadAttemptRetry = "retry"
)

// Metrics exposes session activity as Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	records        prometheus.Counter
	rejected       prometheus.Counter
	flushes        *prometheus.CounterVec // by trigger
	uploads        *prometheus.CounterVec // by attempt and result
	chargedBytes   prometheus.Gauge
	droppedBatches prometheus.Gauge
	state          prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "records_total",
			Help:      "Observation records accepted by the batcher",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "records_rejected_total",
			Help:      "Observation records rejected because the session was unloaded",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "flushes_total",
			Help:      "Batches built, by what triggered the flush",
		}, []string{"trigger"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "uploads_total",
			Help:      "Completed uploads, by attempt kind and result",
		}, []string{"attempt", "result"}),
		chargedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "charged_bytes",
			Help:      "Bytes currently counted against the session quota",
		}),
		droppedBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "dropped_batches",
			Help:      "Failed batches waiting for a retry",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "session_state",
			Help:      "Lifecycle state (0=loaded, 1=activated, 2=unloaded)",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.records, m.rejected, m.flushes, m.uploads, m.chargedBytes, m.droppedBatches, m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) record(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.records.Inc()
	} else {
		m.rejected.Inc()
	}
}

func (m *Metrics) flush(trigger FlushTrigger) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) upload(attempt string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.uploads.WithLabelValues(attempt, result).Inc()
}

func (m *Metrics) setCharged(bytes int64) {
	if m == nil {
		return
	}
	m.chargedBytes.Set(float64(bytes))
}

func (m *Metrics) setDroppedBatches(n int) {
	if m == nil {
		return
	}
	m.droppedBatches.Set(float64(n))
}

func (m *Metrics) setState(state SessionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}
