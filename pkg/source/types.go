package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// RawCost mirrors the provider cost structure: signed integer units plus
// fractional nanos. Some providers serialize units as a JSON string, so
// decoding accepts both forms.
type RawCost struct {
	Units        int64  `json:"units"`
	Nanos        int64  `json:"nanos"`
	CurrencyCode string `json:"currencyCode"`
}

func (c *RawCost) UnmarshalJSON(data []byte) error {
	var aux struct {
		Units        interface{} `json:"units"`
		Nanos        int64       `json:"nanos"`
		CurrencyCode string      `json:"currencyCode"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Nanos = aux.Nanos
	c.CurrencyCode = aux.CurrencyCode

	switch v := aux.Units.(type) {
	case nil:
		c.Units = 0
	case float64:
		c.Units = int64(v)
	case string:
		if v == "" {
			c.Units = 0
			return nil
		}
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid units %q: %w", v, err)
		}
		c.Units = parsed
	default:
		return fmt.Errorf("invalid units type %T", aux.Units)
	}

	return nil
}

// RawCostProjection is the provider's projected cost delta over a duration
type RawCostProjection struct {
	Cost     RawCost `json:"cost"`
	Duration string  `json:"duration,omitempty"` // e.g. "2592000s"
}

// RawImpact is the primary impact block of a raw recommendation
type RawImpact struct {
	Category       string             `json:"category,omitempty"`
	CostProjection *RawCostProjection `json:"costProjection,omitempty"`
}

// RawContent wraps the free-form overview block
type RawContent struct {
	Overview map[string]interface{} `json:"overview,omitempty"`
}

// RawStateInfo carries the provider-side recommendation state
type RawStateInfo struct {
	State string `json:"state,omitempty"`
}

// RawRecommendation is one recommendation payload as returned by the
// recommendation source, before normalization.
type RawRecommendation struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	RecommenderSubtype string       `json:"recommenderSubtype,omitempty"`
	PrimaryImpact      RawImpact    `json:"primaryImpact"`
	Content            RawContent   `json:"content"`
	StateInfo          RawStateInfo `json:"stateInfo"`
}

// ResourceName returns the overview's resource name, if present
func (r *RawRecommendation) ResourceName() string {
	if s, ok := r.Content.Overview["resourceName"].(string); ok {
		return s
	}
	return ""
}

// OverviewString returns a string field from the overview block
func (r *RawRecommendation) OverviewString(key string) string {
	if s, ok := r.Content.Overview[key].(string); ok {
		return s
	}
	return ""
}

// Query identifies one recommendation source lookup
type Query struct {
	Project     string
	Location    string
	Recommender string
}

// RecommendationSource is the external collaborator queried for pending
// recommendations. An empty result is valid: some recommendation kinds are
// region-scoped and return nothing under global scope, and vice versa.
type RecommendationSource interface {
	Query(ctx context.Context, q Query) ([]RawRecommendation, error)
}
