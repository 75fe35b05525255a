// Package savings normalizes and aggregates provider-supplied cost
// projections. Amounts are always a pass-through of the source's units and
// nanos; nothing here recomputes prices from SKU tables.
package savings

import (
	"math"
	"sort"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

const nanosPerUnit = 1e9

// Normalize combines the integer units and fractional nanos components into
// one non-negative amount and annotates the recommendation:
//
//   - a negative projection is a saving; the sign is dropped after validation
//   - a positive projection means applying the recommendation would cost
//     money, so it is flagged instead of being summed as savings
//   - malformed input (no currency, conflicting signs) is treated as zero
//     impact with a warning, never as a fatal error
func Normalize(rec *models.Recommendation) {
	impact := &rec.Impact

	if impact.CurrencyCode == "" {
		impact.Amount = 0
		impact.Malformed = true
		rec.Warnings = append(rec.Warnings, "malformed cost impact: missing currency code")
		return
	}

	if impact.Units != 0 && impact.Nanos != 0 && signOf(impact.Units) != signOf(impact.Nanos) {
		impact.Amount = 0
		impact.Malformed = true
		rec.Warnings = append(rec.Warnings, "malformed cost impact: units and nanos disagree in sign")
		return
	}

	raw := float64(impact.Units) + float64(impact.Nanos)/nanosPerUnit
	if raw > 0 {
		impact.CostIncrease = true
		rec.Warnings = append(rec.Warnings, "positive cost projection: applying this recommendation increases spend")
	}

	impact.Amount = math.Abs(raw)
}

func signOf(v int64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// Aggregate sums normalized amounts grouped by currency code. Flagged cost
// increases and malformed impacts contribute nothing. Mixed-currency input
// yields one total per currency and is never force-converted.
func Aggregate(recs []*models.Recommendation) []models.CurrencyAmount {
	totals := make(map[string]float64)

	for _, rec := range recs {
		impact := rec.Impact
		if impact.Malformed || impact.CostIncrease || impact.CurrencyCode == "" {
			continue
		}
		totals[impact.CurrencyCode] += impact.Amount
	}

	out := make([]models.CurrencyAmount, 0, len(totals))
	for code, amount := range totals {
		out = append(out, models.CurrencyAmount{CurrencyCode: code, Amount: amount})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyCode < out[j].CurrencyCode })
	return out
}
