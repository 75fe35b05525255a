package savings

import (
	"math"
	"testing"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

func rec(units, nanos int64, currency string) *models.Recommendation {
	return &models.Recommendation{
		Impact: models.CostImpact{Units: units, Nanos: nanos, CurrencyCode: currency},
	}
}

func TestNormalizeCombinesUnitsAndNanos(t *testing.T) {
	r := rec(-15, -500000000, "USD")
	Normalize(r)

	if math.Abs(r.Impact.Amount-15.5) > 1e-9 {
		t.Errorf("Expected amount 15.5, got %v", r.Impact.Amount)
	}
	if r.Impact.Malformed {
		t.Error("Expected well-formed impact")
	}
	if r.Impact.CostIncrease {
		t.Error("Negative projection is a saving, not a cost increase")
	}
}

func TestNormalizeNanosOnly(t *testing.T) {
	r := rec(0, -250000000, "USD")
	Normalize(r)

	if math.Abs(r.Impact.Amount-0.25) > 1e-9 {
		t.Errorf("Expected amount 0.25, got %v", r.Impact.Amount)
	}
}

func TestNormalizeMissingCurrency(t *testing.T) {
	r := rec(-10, 0, "")
	Normalize(r)

	if !r.Impact.Malformed {
		t.Error("Expected malformed flag for missing currency")
	}
	if r.Impact.Amount != 0 {
		t.Errorf("Malformed impact must contribute zero, got %v", r.Impact.Amount)
	}
	if len(r.Warnings) == 0 {
		t.Error("Expected a warning for malformed impact")
	}
}

func TestNormalizeConflictingSigns(t *testing.T) {
	r := rec(-10, 500000000, "USD")
	Normalize(r)

	if !r.Impact.Malformed {
		t.Error("Expected malformed flag for conflicting signs")
	}
	if r.Impact.Amount != 0 {
		t.Errorf("Expected zero amount, got %v", r.Impact.Amount)
	}
}

func TestNormalizePositiveProjection(t *testing.T) {
	r := rec(5, 250000000, "USD")
	Normalize(r)

	if !r.Impact.CostIncrease {
		t.Error("Expected cost increase flag for positive projection")
	}
	if math.Abs(r.Impact.Amount-5.25) > 1e-9 {
		t.Errorf("Expected amount 5.25, got %v", r.Impact.Amount)
	}
	if len(r.Warnings) == 0 {
		t.Error("Expected a warning for positive projection")
	}
}

func TestAggregateSumsPerCurrency(t *testing.T) {
	recs := []*models.Recommendation{
		rec(-15, -500000000, "USD"),
		rec(-4, -250000000, "USD"),
		rec(-3, 0, "EUR"),
	}
	for _, r := range recs {
		Normalize(r)
	}

	totals := Aggregate(recs)
	if len(totals) != 2 {
		t.Fatalf("Expected 2 currency totals, got %d", len(totals))
	}

	// Sorted by currency code
	if totals[0].CurrencyCode != "EUR" || math.Abs(totals[0].Amount-3.0) > 1e-9 {
		t.Errorf("Expected EUR 3.0, got %s %v", totals[0].CurrencyCode, totals[0].Amount)
	}
	if totals[1].CurrencyCode != "USD" || math.Abs(totals[1].Amount-19.75) > 1e-9 {
		t.Errorf("Expected USD 19.75, got %s %v", totals[1].CurrencyCode, totals[1].Amount)
	}
}

func TestAggregateSkipsFlaggedImpacts(t *testing.T) {
	increase := rec(5, 0, "USD")
	malformed := rec(-10, 0, "")
	saving := rec(-19, -500000000, "USD")
	for _, r := range []*models.Recommendation{increase, malformed, saving} {
		Normalize(r)
	}

	totals := Aggregate([]*models.Recommendation{increase, malformed, saving})
	if len(totals) != 1 {
		t.Fatalf("Expected 1 currency total, got %d", len(totals))
	}
	if math.Abs(totals[0].Amount-19.5) > 1e-9 {
		t.Errorf("Expected USD 19.5, got %v", totals[0].Amount)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := rec(-1, -100000000, "USD")
	b := rec(-2, -200000000, "USD")
	c := rec(-3, -300000000, "USD")
	for _, r := range []*models.Recommendation{a, b, c} {
		Normalize(r)
	}

	forward := Aggregate([]*models.Recommendation{a, b, c})
	backward := Aggregate([]*models.Recommendation{c, b, a})

	if len(forward) != 1 || len(backward) != 1 {
		t.Fatal("Expected single-currency totals")
	}
	if forward[0].Amount != backward[0].Amount {
		t.Errorf("Aggregation must be order independent: %v vs %v", forward[0].Amount, backward[0].Amount)
	}
}
