package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/opscart/cloud-cost-orchestrator/pkg/executor"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/modules"
	"github.com/opscart/cloud-cost-orchestrator/pkg/policy"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// scanModule scripts scan results per region and counts remediations
type scanModule struct {
	mu             sync.Mutex
	domain         models.Domain
	byRegion       map[string][]*models.Recommendation
	scanErr        error
	blockScan      chan struct{} // when set, Scan waits until closed
	scanning       chan struct{} // signals a scan is in flight
	remediateCalls int
}

func (m *scanModule) Domain() models.Domain { return m.domain }

func (m *scanModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	if m.scanning != nil {
		m.scanning <- struct{}{}
	}
	if m.blockScan != nil {
		<-m.blockScan
	}
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.byRegion[region], nil
}

func (m *scanModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error { return nil }

func (m *scanModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	return []models.OperationSpec{{Verb: models.OpDelete, Resource: rec.Resource}}
}

func (m *scanModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	act.SafetyArtifact = rec.Resource.Name + "-safeguard"
	return nil
}

func (m *scanModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediateCalls++
	return nil
}

func finding(id, name string, units int64, destructive bool) *models.Recommendation {
	return &models.Recommendation{
		ID:          id,
		Domain:      models.DomainCompute,
		Resource:    models.ResourceRef{Project: "p1", Region: "us-central1", Name: name},
		Kind:        models.KindIdleResource,
		State:       models.StateOpen,
		Destructive: destructive,
		Impact:      models.CostImpact{Units: units, CurrencyCode: "USD"},
	}
}

func newTestOrchestrator(mod modules.Module, set *policy.Set, store storage.Store) *Orchestrator {
	engine := policy.NewEngine(set)
	exec := executor.New([]modules.Module{mod}, engine, store, nil, logger.Nop(), 2)
	return New([]modules.Module{mod}, engine, exec, store, nil, logger.Nop(), Options{})
}

func TestScanBuildsPlan(t *testing.T) {
	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {
				finding("rec-1", "vm-1", -15, false),
				finding("rec-2", "vm-2", -5, true),
			},
		},
	}
	orch := newTestOrchestrator(mod, policy.Default(), storage.NewMemoryStore())

	plan, err := orch.Scan(context.Background(), nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(plan.Recommendations) != 2 {
		t.Fatalf("Expected 2 recommendations, got %d", len(plan.Recommendations))
	}
	if len(plan.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(plan.Actions))
	}
	if plan.Approval != models.ApprovalPending {
		t.Errorf("New plans start PENDING, got %s", plan.Approval)
	}

	// Costs normalized and aggregated per currency
	if len(plan.PotentialSavings) != 1 || plan.PotentialSavings[0].Amount != 20 {
		t.Errorf("Expected USD 20 potential savings, got %+v", plan.PotentialSavings)
	}

	// Default policy gates the destructive finding behind approval
	benign := plan.Action("rec-1")
	gated := plan.Action("rec-2")
	if benign == nil || benign.Decision != models.EffectAllow {
		t.Errorf("Expected rec-1 allowed, got %+v", benign)
	}
	if gated == nil || gated.Decision != models.EffectRequireApproval {
		t.Errorf("Expected rec-2 approval-gated, got %+v", gated)
	}

	// Operations composed at plan time for dry-run parity
	if len(benign.Operations) == 0 {
		t.Error("Expected composed operations on the action")
	}
}

func TestScanFiltersTerminalStates(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// A previous run applied vm-applied and failed vm-failed
	applied := finding("old-1", "vm-applied", -10, false)
	applied.State = models.StateApplied
	store.SaveRecommendation(ctx, applied)

	failed := finding("old-2", "vm-failed", -10, false)
	failed.State = models.StateFailed
	store.SaveRecommendation(ctx, failed)

	dismissed := finding("old-3", "vm-dismissed", -10, false)
	dismissed.State = models.StateDismissed
	store.SaveRecommendation(ctx, dismissed)

	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {
				finding("new-1", "vm-applied", -10, false),
				finding("new-2", "vm-failed", -10, false),
				finding("new-3", "vm-dismissed", -10, false),
				finding("new-4", "vm-fresh", -10, false),
			},
		},
	}
	orch := newTestOrchestrator(mod, &policy.Set{}, store)

	plan, err := orch.Scan(ctx, nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	got := make(map[string]bool)
	for _, rec := range plan.Recommendations {
		got[rec.Resource.Name] = true
	}

	if got["vm-applied"] || got["vm-dismissed"] {
		t.Errorf("APPLIED and DISMISSED resources must be filtered, got %v", got)
	}
	if !got["vm-failed"] {
		t.Error("FAILED resources are re-offered for retry")
	}
	if !got["vm-fresh"] {
		t.Error("Fresh resources must survive the filter")
	}
}

func TestScanRecordsFailuresWithoutAborting(t *testing.T) {
	healthy := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {finding("rec-1", "vm-1", -10, false)},
		},
	}
	broken := &scanModule{
		domain:  models.DomainStorage,
		scanErr: fmt.Errorf("recommender unavailable"),
	}

	engine := policy.NewEngine(&policy.Set{})
	mods := []modules.Module{healthy, broken}
	exec := executor.New(mods, engine, nil, nil, logger.Nop(), 2)
	orch := New(mods, engine, exec, nil, nil, logger.Nop(), Options{})

	plan, err := orch.Scan(context.Background(), nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(plan.Recommendations) != 1 {
		t.Errorf("Healthy domain results must stand, got %d", len(plan.Recommendations))
	}
	if len(plan.ScanFailures) != 1 {
		t.Fatalf("Expected 1 scan failure, got %d", len(plan.ScanFailures))
	}
	failure := plan.ScanFailures[0]
	if failure.Domain != models.DomainStorage || !strings.Contains(failure.Reason, "recommender unavailable") {
		t.Errorf("Failure recorded wrong: %+v", failure)
	}
}

func TestScanDeduplicatesAcrossRegions(t *testing.T) {
	// The same finding can surface under both the global and regional scope
	rec := finding("rec-1", "vm-1", -10, false)
	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"global":      {rec},
			"us-central1": {finding("rec-1", "vm-1", -10, false)},
		},
	}
	orch := newTestOrchestrator(mod, &policy.Set{}, nil)

	plan, err := orch.Scan(context.Background(), nil, []string{"global", "us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(plan.Recommendations) != 1 {
		t.Errorf("Expected duplicate IDs collapsed, got %d", len(plan.Recommendations))
	}
}

func TestConcurrentScanOfSamePairSkipped(t *testing.T) {
	mod := &scanModule{
		domain:    models.DomainCompute,
		blockScan: make(chan struct{}),
		scanning:  make(chan struct{}, 4),
	}
	orch := newTestOrchestrator(mod, &policy.Set{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Scan(context.Background(), nil, []string{"us-central1"})
	}()

	// Wait until the first scan holds the (domain, region) slot
	<-mod.scanning

	plan, err := orch.Scan(context.Background(), nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(plan.ScanFailures) != 1 {
		t.Fatalf("Expected the duplicate pair skipped, got %+v", plan.ScanFailures)
	}
	if !strings.Contains(plan.ScanFailures[0].Reason, "already in flight") {
		t.Errorf("Skip reason wrong: %s", plan.ScanFailures[0].Reason)
	}

	close(mod.blockScan)
	wg.Wait()
}

func TestDryRunExecutesNothing(t *testing.T) {
	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {finding("rec-1", "vm-1", -10, false)},
		},
	}
	orch := newTestOrchestrator(mod, &policy.Set{}, storage.NewMemoryStore())

	ctx := context.Background()
	plan, err := orch.Scan(ctx, nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	report, err := orch.Execute(ctx, plan.ID, true)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !report.DryRun {
		t.Error("Report must be marked dry-run")
	}
	if mod.remediateCalls != 0 {
		t.Errorf("Dry-run must make zero remediation calls, got %d", mod.remediateCalls)
	}
	if len(report.Actions) != 1 {
		t.Fatalf("Expected 1 action in report, got %d", len(report.Actions))
	}
	if len(report.Actions[0].Operations) == 0 {
		t.Error("Dry-run reports the composed operations")
	}
	if report.Actions[0].Result != models.ResultPending {
		t.Errorf("Dry-run actions stay PENDING, got %s", report.Actions[0].Result)
	}
	if len(report.RealizedSavings) != 0 {
		t.Errorf("Dry-run realizes nothing, got %+v", report.RealizedSavings)
	}
}

func TestApproveThenExecute(t *testing.T) {
	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {finding("rec-1", "vm-1", -15, true)},
		},
	}
	orch := newTestOrchestrator(mod, policy.Default(), storage.NewMemoryStore())
	ctx := context.Background()

	plan, err := orch.Scan(ctx, nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	act := plan.Action("rec-1")
	if act.Decision != models.EffectRequireApproval {
		t.Fatalf("Expected approval-gated action, got %s", act.Decision)
	}

	// Without approval the action stays put
	report, err := orch.Execute(ctx, plan.ID, false)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Actions[0].Result != models.ResultPending {
		t.Fatalf("Unapproved action must not run, got %s", report.Actions[0].Result)
	}
	if mod.remediateCalls != 0 {
		t.Fatal("Unapproved action must not remediate")
	}

	if _, err := orch.Approve(ctx, plan.ID, nil); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	report, err = orch.Execute(ctx, plan.ID, false)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Actions[0].Result != models.ResultSuccess {
		t.Fatalf("Expected SUCCESS after approval, got %s (%s)", report.Actions[0].Result, report.Actions[0].Reason)
	}
	if len(report.RealizedSavings) != 1 || report.RealizedSavings[0].Amount != 15 {
		t.Errorf("Expected USD 15 realized, got %+v", report.RealizedSavings)
	}
}

func TestRejectedPlanNeverExecutes(t *testing.T) {
	mod := &scanModule{
		domain: models.DomainCompute,
		byRegion: map[string][]*models.Recommendation{
			"us-central1": {finding("rec-1", "vm-1", -10, false)},
		},
	}
	orch := newTestOrchestrator(mod, &policy.Set{}, storage.NewMemoryStore())
	ctx := context.Background()

	plan, err := orch.Scan(ctx, nil, []string{"us-central1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, err := orch.Reject(ctx, plan.ID); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	if _, err := orch.Execute(ctx, plan.ID, false); err == nil {
		t.Error("Executing a rejected plan must fail")
	}
	if _, err := orch.Approve(ctx, plan.ID, nil); err == nil {
		t.Error("Approving a rejected plan must fail")
	}
	if mod.remediateCalls != 0 {
		t.Error("Rejected plans never remediate")
	}
}

func TestScanRequiresRegions(t *testing.T) {
	mod := &scanModule{domain: models.DomainCompute}
	orch := newTestOrchestrator(mod, &policy.Set{}, nil)

	if _, err := orch.Scan(context.Background(), nil, nil); err == nil {
		t.Error("Expected error for empty region list")
	}
}
