package wellnessid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts flow outcomes. The label set is the closed outcome/reason
// vocabulary, so cardinality stays bounded.
type Metrics struct {
	EnrollmentOutcomes *prometheus.CounterVec
	LoginOutcomes      *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		EnrollmentOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessid",
			Name:      "enrollment_outcomes_total",
			Help:      "Enrollment step results by path and outcome.",
		}, []string{"path", "outcome"}),
		LoginOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessid",
			Name:      "login_outcomes_total",
			Help:      "Login results by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessid",
			Name:      "flow_rejections_total",
			Help:      "Policy rejections by reason code.",
		}, []string{"code"}),
	}
}

// ObserveEnrollment records one enrollment step result.
func (m *Metrics) ObserveEnrollment(path EnrollmentPath, res *Result) {
	if m == nil || res == nil {
		return
	}
	m.EnrollmentOutcomes.WithLabelValues(string(path), string(res.Outcome)).Inc()
	if res.Reject != nil {
		m.Rejections.WithLabelValues(res.Reject.Code).Inc()
	}
}

// ObserveLogin records one login result.
func (m *Metrics) ObserveLogin(provider Provider, res *Result) {
	if m == nil || res == nil {
		return
	}
	m.LoginOutcomes.WithLabelValues(string(provider), string(res.Outcome)).Inc()
	if res.Reject != nil {
		m.Rejections.WithLabelValues(res.Reject.Code).Inc()
	}
}
