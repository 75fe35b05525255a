package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// GenerateCSV creates a CSV report
func GenerateCSV(report *Report, writer io.Writer) error {
	w := csv.NewWriter(writer)
	defer w.Flush()

	header := []string{
		"Action ID",
		"Recommendation ID",
		"Resource",
		"Kind",
		"Result",
		"Reason",
		"Safety Artifact",
		"Resource Note",
		"Amount",
		"Currency",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, act := range report.Actions {
		row := []string{
			act.ActionID,
			act.RecommendationID,
			act.Resource,
			string(act.Kind),
			string(act.Result),
			act.Reason,
			act.SafetyArtifact,
			act.ResourceNote,
			fmt.Sprintf("%.2f", act.Amount),
			act.CurrencyCode,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	// Summary rows
	w.Write([]string{})
	w.Write([]string{"SUMMARY"})
	w.Write([]string{"Plan", report.PlanID})
	w.Write([]string{"Actions", fmt.Sprintf("%d", report.ActionCount)})
	w.Write([]string{"Succeeded", fmt.Sprintf("%d", report.ResultCounts[models.ResultSuccess])})
	w.Write([]string{"Potential Savings", FormatAmounts(report.PotentialSavings)})
	w.Write([]string{"Realized Savings", FormatAmounts(report.RealizedSavings)})

	// Kind breakdown, ordered for stable output
	w.Write([]string{})
	w.Write([]string{"KIND BREAKDOWN"})
	w.Write([]string{"Kind", "Actions", "Succeeded", "Realized"})

	kinds := make([]models.Kind, 0, len(report.KindStats))
	for kind := range report.KindStats {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		stat := report.KindStats[kind]
		realized := make([]models.CurrencyAmount, 0, len(stat.Realized))
		for code, amount := range stat.Realized {
			realized = append(realized, models.CurrencyAmount{CurrencyCode: code, Amount: amount})
		}
		sort.Slice(realized, func(i, j int) bool { return realized[i].CurrencyCode < realized[j].CurrencyCode })
		w.Write([]string{
			string(stat.Kind),
			fmt.Sprintf("%d", stat.Count),
			fmt.Sprintf("%d", stat.Succeeded),
			FormatAmounts(realized),
		})
	}

	return nil
}
