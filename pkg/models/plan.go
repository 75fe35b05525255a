package models

import "time"

// ApprovalState tracks a plan through its approval lifecycle.
// Transitions: PENDING -> APPROVED | REJECTED. A plan is never mutated after
// approval; re-scanning produces a new plan.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

// ScanFailure records one (domain, region) pair that did not produce results.
// Failures are attached to the plan instead of aborting the scan.
type ScanFailure struct {
	Domain Domain `json:"domain"`
	Region string `json:"region"`
	Reason string `json:"reason"`
}

// CurrencyAmount is an aggregate in a single currency. Mixed-currency sets
// produce one entry per currency and are never force-converted.
type CurrencyAmount struct {
	CurrencyCode string  `json:"currencyCode"`
	Amount       float64 `json:"amount"`
}

// Plan is an immutable batch of recommendations selected in one
// orchestration cycle, together with the actions spawned from them.
type Plan struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Recommendations []*Recommendation `json:"recommendations"`
	Actions         []*Action         `json:"actions"`

	// PotentialSavings aggregates the cost impact of every open
	// recommendation in the plan, grouped by currency.
	PotentialSavings []CurrencyAmount `json:"potentialSavings"`

	Approval     ApprovalState `json:"approval"`
	ScanFailures []ScanFailure `json:"scanFailures,omitempty"`
}

// RecommendationIDs returns the ordered IDs of the plan's recommendations
func (p *Plan) RecommendationIDs() []string {
	ids := make([]string, 0, len(p.Recommendations))
	for _, rec := range p.Recommendations {
		ids = append(ids, rec.ID)
	}
	return ids
}

// Recommendation returns the plan entry with the given ID, or nil
func (p *Plan) Recommendation(id string) *Recommendation {
	for _, rec := range p.Recommendations {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// Action returns the action bound to the given recommendation, or nil
func (p *Plan) Action(recommendationID string) *Action {
	for _, act := range p.Actions {
		if act.RecommendationID == recommendationID {
			return act
		}
	}
	return nil
}
