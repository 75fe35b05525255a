// Package reporter renders execution reports for humans and pipelines
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatCSV  ReportFormat = "csv"
	FormatHTML ReportFormat = "html"
)

// Report contains all data for generating reports
type Report struct {
	PlanID      string
	DryRun      bool
	GeneratedAt time.Time

	Actions          []models.ActionResult
	PotentialSavings []models.CurrencyAmount
	RealizedSavings  []models.CurrencyAmount

	ActionCount  int
	ResultCounts map[models.ExecutionResult]int
	KindStats    map[models.Kind]*KindStats
}

// KindStats holds per-recommendation-kind outcome statistics
type KindStats struct {
	Kind         models.Kind
	Count        int
	Succeeded    int
	Realized     map[string]float64 // currency -> amount
	RealizedRate float64
}

// Reporter generates execution reports
type Reporter struct {
	format ReportFormat
}

// New creates a new reporter
func New(format ReportFormat) *Reporter {
	return &Reporter{format: format}
}

// Generate builds a report from an execution report
func (r *Reporter) Generate(exec *models.ExecutionReport) (*Report, error) {
	if exec == nil {
		return nil, fmt.Errorf("nil execution report")
	}

	report := &Report{
		PlanID:           exec.PlanID,
		DryRun:           exec.DryRun,
		GeneratedAt:      exec.GeneratedAt,
		Actions:          exec.Actions,
		PotentialSavings: exec.PotentialSavings,
		RealizedSavings:  exec.RealizedSavings,
		ResultCounts:     make(map[models.ExecutionResult]int),
		KindStats:        make(map[models.Kind]*KindStats),
	}

	r.calculateStats(report)
	return report, nil
}

// calculateStats computes all statistics for the report
func (r *Reporter) calculateStats(report *Report) {
	for _, act := range report.Actions {
		report.ActionCount++
		report.ResultCounts[act.Result]++

		stat, ok := report.KindStats[act.Kind]
		if !ok {
			stat = &KindStats{Kind: act.Kind, Realized: make(map[string]float64)}
			report.KindStats[act.Kind] = stat
		}
		stat.Count++
		if act.Result == models.ResultSuccess {
			stat.Succeeded++
			if act.CurrencyCode != "" {
				stat.Realized[act.CurrencyCode] += act.Amount
			}
		}
	}

	for _, stat := range report.KindStats {
		if stat.Count > 0 {
			stat.RealizedRate = float64(stat.Succeeded) / float64(stat.Count) * 100
		}
	}
}

// FormatAmounts renders per-currency amounts as a single string, one entry
// per currency. An empty set renders as a zero.
func FormatAmounts(amounts []models.CurrencyAmount) string {
	if len(amounts) == 0 {
		return "0.00"
	}
	parts := make([]string, 0, len(amounts))
	for _, ca := range amounts {
		parts = append(parts, fmt.Sprintf("%.2f %s", ca.Amount, ca.CurrencyCode))
	}
	return strings.Join(parts, ", ")
}
