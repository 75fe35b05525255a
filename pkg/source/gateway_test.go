package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// fakeSource serves canned payloads per recommender and records queries
type fakeSource struct {
	byRecommender map[string][]RawRecommendation
	failing       map[string]error
	queries       []Query
}

func (f *fakeSource) Query(ctx context.Context, q Query) ([]RawRecommendation, error) {
	f.queries = append(f.queries, q)
	if err, ok := f.failing[q.Recommender]; ok {
		return nil, err
	}
	return f.byRecommender[q.Recommender], nil
}

func idleInstancePayload(name string) RawRecommendation {
	return RawRecommendation{
		Name:        "projects/123/locations/us-central1/recommenders/google.compute.instance.IdleResourceRecommender/recommendations/" + name,
		Description: "Instance is idle",
		PrimaryImpact: RawImpact{
			Category: "COST",
			CostProjection: &RawCostProjection{
				Cost:     RawCost{Units: -15, Nanos: -500000000, CurrencyCode: "USD"},
				Duration: "2592000s",
			},
		},
		Content: RawContent{Overview: map[string]interface{}{
			"resourceName": "//compute.googleapis.com/projects/acme-prod/zones/us-central1-a/instances/vm-" + name,
		}},
		StateInfo: RawStateInfo{State: "ACTIVE"},
	}
}

func TestScanNormalizesPayloads(t *testing.T) {
	src := &fakeSource{byRecommender: map[string][]RawRecommendation{
		"google.compute.instance.IdleResourceRecommender": {idleInstancePayload("rec-1")},
	}}
	gw := New(src, "acme-prod", map[string]string{"acme-prod": "prod"}, logger.Nop())

	recs, err := gw.Scan(context.Background(), models.DomainCompute, "us-central1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 recommendation, got %d", len(recs))
	}

	rec := recs[0]
	if rec.ID != "rec-1" {
		t.Errorf("Expected ID from source name, got %s", rec.ID)
	}
	if rec.Domain != models.DomainCompute || rec.Kind != models.KindIdleResource {
		t.Errorf("Wrong classification: %s/%s", rec.Domain, rec.Kind)
	}
	if !rec.Destructive {
		t.Error("Idle instance findings are destructive")
	}
	if rec.Resource.Project != "acme-prod" || rec.Resource.Zone != "us-central1-a" || rec.Resource.Name != "vm-rec-1" {
		t.Errorf("Resource parsed wrong: %+v", rec.Resource)
	}
	if rec.Resource.Region != "us-central1" {
		t.Errorf("Expected region derived from zone, got %s", rec.Resource.Region)
	}
	if rec.Impact.Units != -15 || rec.Impact.Nanos != -500000000 || rec.Impact.CurrencyCode != "USD" {
		t.Errorf("Cost passed through wrong: %+v", rec.Impact)
	}
	if rec.Environment != "prod" {
		t.Errorf("Expected environment tag from project mapping, got %q", rec.Environment)
	}
	if rec.State != models.StateOpen {
		t.Errorf("ACTIVE must map to OPEN, got %s", rec.State)
	}
	if len(rec.Raw) == 0 {
		t.Error("Raw payload must be retained for modules")
	}
}

func TestScanQueriesEveryRecommender(t *testing.T) {
	src := &fakeSource{}
	gw := New(src, "acme-prod", nil, logger.Nop())

	if _, err := gw.Scan(context.Background(), models.DomainCompute, "global"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := Recommenders(models.DomainCompute)
	if len(src.queries) != len(want) {
		t.Fatalf("Expected %d queries, got %d", len(want), len(src.queries))
	}
	for i, q := range src.queries {
		if q.Recommender != want[i] {
			t.Errorf("Query %d: expected %s, got %s", i, want[i], q.Recommender)
		}
		if q.Location != "global" {
			t.Errorf("Query %d: expected global location, got %s", i, q.Location)
		}
	}
}

func TestScanPartialFailureKeepsResults(t *testing.T) {
	src := &fakeSource{
		byRecommender: map[string][]RawRecommendation{
			"google.compute.instance.MachineTypeRecommender": {idleInstancePayload("rec-2")},
		},
		failing: map[string]error{
			"google.compute.instance.IdleResourceRecommender": fmt.Errorf("quota exceeded"),
		},
	}
	gw := New(src, "acme-prod", nil, logger.Nop())

	recs, err := gw.Scan(context.Background(), models.DomainCompute, "us-central1")
	if err == nil {
		t.Fatal("Expected an error for the failing recommender")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Error should name the failure, got: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Results from healthy recommenders must stand, got %d", len(recs))
	}
}

func TestScanMissingCostProjection(t *testing.T) {
	payload := idleInstancePayload("rec-3")
	payload.PrimaryImpact.CostProjection = nil

	src := &fakeSource{byRecommender: map[string][]RawRecommendation{
		"google.compute.instance.IdleResourceRecommender": {payload},
	}}
	gw := New(src, "acme-prod", nil, logger.Nop())

	recs, err := gw.Scan(context.Background(), models.DomainCompute, "us-central1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 recommendation, got %d", len(recs))
	}

	rec := recs[0]
	if rec.Impact.CurrencyCode != "" || rec.Impact.Units != 0 {
		t.Errorf("Missing projection must leave a zero impact, got %+v", rec.Impact)
	}
	if len(rec.Warnings) == 0 {
		t.Error("Expected a warning for the missing projection")
	}
}

func TestScanUnknownDomain(t *testing.T) {
	gw := New(&fakeSource{}, "acme-prod", nil, logger.Nop())
	if _, err := gw.Scan(context.Background(), models.Domain("network"), "global"); err == nil {
		t.Error("Expected error for unknown domain")
	}
}

func TestRawCostUnitsAsString(t *testing.T) {
	var cost RawCost
	if err := json.Unmarshal([]byte(`{"units":"-15","nanos":-500000000,"currencyCode":"USD"}`), &cost); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cost.Units != -15 {
		t.Errorf("Expected units -15 from string form, got %d", cost.Units)
	}

	if err := json.Unmarshal([]byte(`{"units":-7,"currencyCode":"USD"}`), &cost); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cost.Units != -7 {
		t.Errorf("Expected units -7 from number form, got %d", cost.Units)
	}

	if err := json.Unmarshal([]byte(`{"units":true}`), &cost); err == nil {
		t.Error("Expected error for non-numeric units")
	}
}

func TestParseResourceNameVariants(t *testing.T) {
	tests := []struct {
		name string
		want models.ResourceRef
	}{
		{
			name: "//compute.googleapis.com/projects/p1/zones/us-east1-b/instances/vm-9",
			want: models.ResourceRef{Project: "p1", Region: "us-east1", Zone: "us-east1-b", Name: "vm-9"},
		},
		{
			name: "//compute.googleapis.com/projects/p1/regions/europe-west1/addresses/addr-1",
			want: models.ResourceRef{Project: "p1", Region: "europe-west1", Name: "addr-1"},
		},
		{
			name: "//storage.googleapis.com/projects/p1/buckets/logs-bucket",
			want: models.ResourceRef{Project: "p1", Name: "logs-bucket"},
		},
	}

	for _, tt := range tests {
		got := parseResourceName(tt.name)
		if got != tt.want {
			t.Errorf("parseResourceName(%s) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestRecommendationIDFallsBackToHash(t *testing.T) {
	ref := models.ResourceRef{Project: "p1", Name: "vm-1"}
	first := recommendationID("", "rec-a", ref)
	second := recommendationID("", "rec-a", ref)
	other := recommendationID("", "rec-b", ref)

	if first == "" {
		t.Fatal("Expected a derived ID")
	}
	if first != second {
		t.Error("Derived ID must be stable")
	}
	if first == other {
		t.Error("Different recommenders must derive different IDs")
	}
}
