// Package metrics exports Prometheus instrumentation for the orchestration
// loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's instrument set
type Metrics struct {
	ScansTotal           *prometheus.CounterVec
	ScanFailuresTotal    *prometheus.CounterVec
	RecommendationsFound *prometheus.CounterVec
	ActionsTotal         *prometheus.CounterVec
	PotentialSavings     *prometheus.GaugeVec
	RealizedSavings      *prometheus.GaugeVec
}

// New creates and registers the instrument set. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costorch_scans_total",
			Help: "Scan calls issued, by domain and region.",
		}, []string{"domain", "region"}),
		ScanFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costorch_scan_failures_total",
			Help: "Scan calls that ended in a partial failure.",
		}, []string{"domain", "region"}),
		RecommendationsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costorch_recommendations_found_total",
			Help: "Recommendations discovered by scans, by domain.",
		}, []string{"domain"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costorch_actions_total",
			Help: "Actions reaching a terminal state, by result.",
		}, []string{"result"}),
		PotentialSavings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "costorch_potential_savings",
			Help: "Aggregate cost impact of open recommendations in the last plan, per currency.",
		}, []string{"currency"}),
		RealizedSavings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "costorch_realized_savings",
			Help: "Aggregate cost impact of successfully executed actions, per currency.",
		}, []string{"currency"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ScansTotal,
			m.ScanFailuresTotal,
			m.RecommendationsFound,
			m.ActionsTotal,
			m.PotentialSavings,
			m.RealizedSavings,
		)
	}

	return m
}
