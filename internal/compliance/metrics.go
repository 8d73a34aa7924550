package compliance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smellreg/smellreg/internal/domain"
)

// Metrics provides observability for compliance checks. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Checks by verdict: compliant, non_compliant, rejected
	Checks *prometheus.CounterVec

	// Findings by family and severity
	Findings *prometheus.CounterVec

	// Families that could not be evaluated
	DataGaps *prometheus.CounterVec

	// Per-evaluator and whole-check latency
	EvaluatorLatency *prometheus.HistogramVec
	CheckLatency     prometheus.Histogram
}

// NewMetrics registers the compliance metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smellreg_compliance_checks_total",
			Help: "Compliance checks by verdict",
		}, []string{"verdict"}),

		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smellreg_compliance_findings_total",
			Help: "Findings by regulation family and severity",
		}, []string{"family", "severity"}),

		DataGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smellreg_compliance_data_gaps_total",
			Help: "Market/family evaluations skipped for missing reference data",
		}, []string{"family"}),

		EvaluatorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smellreg_evaluator_duration_seconds",
			Help:    "Duration of a single evaluator run by family",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}, []string{"family"}),

		CheckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "smellreg_compliance_check_duration_seconds",
			Help:    "Duration of a full compliance check",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) observeEvaluator(f domain.Family, d time.Duration) {
	if m != nil {
		m.EvaluatorLatency.WithLabelValues(string(f)).Observe(d.Seconds())
	}
}

func (m *Metrics) observeRejected() {
	if m != nil {
		m.Checks.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) observeReport(r *domain.ComplianceReport, d time.Duration) {
	if m == nil {
		return
	}
	verdict := "compliant"
	if !r.IsCompliant {
		verdict = "non_compliant"
	}
	m.Checks.WithLabelValues(verdict).Inc()
	m.CheckLatency.Observe(d.Seconds())
	for _, f := range r.Findings() {
		m.Findings.WithLabelValues(string(f.Family), string(f.Severity)).Inc()
	}
	for _, g := range r.DataGaps {
		m.DataGaps.WithLabelValues(string(g.Family)).Inc()
	}
}
