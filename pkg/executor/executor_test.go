package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/modules"
	"github.com/opscart/cloud-cost-orchestrator/pkg/policy"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// fakeModule scripts verify/safeguard/remediate outcomes and counts calls
type fakeModule struct {
	mu             sync.Mutex
	domain         models.Domain
	verifyErr      error
	safeguardErr   error
	remediateErr   error
	artifact       string
	verifyCalls    int
	safeguardCalls int
	remediateCalls int
	remediated     []string
}

func (m *fakeModule) Domain() models.Domain { return m.domain }

func (m *fakeModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	return nil, nil
}

func (m *fakeModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++
	return m.verifyErr
}

func (m *fakeModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	return []models.OperationSpec{{Verb: models.OpDelete, Resource: rec.Resource}}
}

func (m *fakeModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeguardCalls++
	if m.safeguardErr != nil {
		return m.safeguardErr
	}
	act.SafetyArtifact = m.artifact
	return nil
}

func (m *fakeModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediateCalls++
	m.remediated = append(m.remediated, rec.ID)
	return m.remediateErr
}

func planWith(rec *models.Recommendation, act *models.Action) *models.Plan {
	return &models.Plan{
		ID:              "plan-1",
		Recommendations: []*models.Recommendation{rec},
		Actions:         []*models.Action{act},
	}
}

func testAction(rec *models.Recommendation) *models.Action {
	return &models.Action{
		ID:               "act-1",
		PlanID:           "plan-1",
		RecommendationID: rec.ID,
		Resource:         rec.Resource,
		Destructive:      rec.Destructive,
		Decision:         models.EffectAllow,
		Preflight:        models.PreflightNotRun,
		Result:           models.ResultPending,
	}
}

func computeRec(destructive bool) *models.Recommendation {
	return &models.Recommendation{
		ID:          "rec-1",
		Domain:      models.DomainCompute,
		Resource:    models.ResourceRef{Project: "p1", Region: "us-central1", Name: "vm-1"},
		Kind:        models.KindIdleResource,
		State:       models.StateClaimed,
		Destructive: destructive,
		Impact:      models.CostImpact{Amount: 10, CurrencyCode: "USD"},
	}
}

func newTestExecutor(mod *fakeModule, store storage.Store) *Executor {
	return New([]modules.Module{mod}, policy.NewEngine(&policy.Set{}), store, nil, logger.Nop(), 2)
}

func TestExecuteSuccess(t *testing.T) {
	mod := &fakeModule{domain: models.DomainCompute}
	store := storage.NewMemoryStore()
	rec := computeRec(false)
	act := testAction(rec)
	store.SaveRecommendation(context.Background(), rec)
	store.SavePlan(context.Background(), planWith(rec, act))
	store.SaveAction(context.Background(), act)

	exec := newTestExecutor(mod, store)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", act.Result, act.Reason)
	}
	if act.Preflight != models.PreflightPassed {
		t.Errorf("Expected preflight PASSED, got %s", act.Preflight)
	}
	if rec.State != models.StateApplied {
		t.Errorf("Expected recommendation APPLIED, got %s", rec.State)
	}
	if mod.remediateCalls != 1 {
		t.Errorf("Expected 1 remediation, got %d", mod.remediateCalls)
	}
}

func TestUnsafeVerificationSkipsNotFails(t *testing.T) {
	mod := &fakeModule{
		domain:    models.DomainCompute,
		verifyErr: modules.Unsafe("instance no longer idle"),
	}
	rec := computeRec(false)
	act := testAction(rec)

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultSkipped {
		t.Fatalf("Unsafe must end SKIPPED, never FAILED, got %s", act.Result)
	}
	if act.Preflight != models.PreflightBlocked {
		t.Errorf("Expected preflight BLOCKED, got %s", act.Preflight)
	}
	if act.Reason != "instance no longer idle" {
		t.Errorf("Reason should carry the unsafe cause, got %q", act.Reason)
	}
	if mod.remediateCalls != 0 {
		t.Error("Blocked actions must never touch the resource")
	}
	if rec.State != models.StateOpen {
		t.Errorf("Skipped recommendations reopen for a later cycle, got %s", rec.State)
	}
}

func TestVerificationErrorAlsoSkips(t *testing.T) {
	mod := &fakeModule{
		domain:    models.DomainCompute,
		verifyErr: fmt.Errorf("describe timed out"),
	}
	rec := computeRec(false)
	act := testAction(rec)

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultSkipped {
		t.Fatalf("A failed check blocks exactly like an unsafe one, got %s", act.Result)
	}
	if mod.remediateCalls != 0 {
		t.Error("No mutation may follow a failed safety check")
	}
}

func TestDestructiveWithoutArtifactDenied(t *testing.T) {
	mod := &fakeModule{
		domain:       models.DomainCompute,
		safeguardErr: fmt.Errorf("snapshot quota exceeded"),
	}
	rec := computeRec(true)
	act := testAction(rec)

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultDenied {
		t.Fatalf("Expected DENIED, got %s", act.Result)
	}
	if mod.remediateCalls != 0 {
		t.Error("Denied actions must never remediate")
	}
	if rec.State != models.StateOpen {
		t.Errorf("Denied recommendations reopen, got %s", rec.State)
	}
}

func TestDestructiveWithArtifactSucceeds(t *testing.T) {
	mod := &fakeModule{
		domain:   models.DomainCompute,
		artifact: "vm-1-safeguard-rec-1",
	}
	rec := computeRec(true)
	act := testAction(rec)

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", act.Result, act.Reason)
	}
	if act.SafetyArtifact != "vm-1-safeguard-rec-1" {
		t.Errorf("Expected the artifact recorded, got %q", act.SafetyArtifact)
	}
	if mod.safeguardCalls != 1 {
		t.Errorf("Expected 1 safeguard call, got %d", mod.safeguardCalls)
	}
}

func TestRemediationFailureMarksFailed(t *testing.T) {
	mod := &fakeModule{
		domain:       models.DomainCompute,
		remediateErr: fmt.Errorf("delete rejected"),
	}
	rec := computeRec(false)
	act := testAction(rec)

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultFailed {
		t.Fatalf("Expected FAILED, got %s", act.Result)
	}
	if rec.State != models.StateFailed {
		t.Errorf("Expected recommendation FAILED, got %s", rec.State)
	}
}

func TestUnapprovedActionDoesNotRun(t *testing.T) {
	mod := &fakeModule{domain: models.DomainCompute}
	rec := computeRec(false)
	act := testAction(rec)
	act.Decision = models.EffectRequireApproval
	act.Approved = false

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), planWith(rec, act))

	if act.Result != models.ResultPending {
		t.Fatalf("Unapproved actions stay PENDING, got %s", act.Result)
	}
	if mod.verifyCalls != 0 || mod.remediateCalls != 0 {
		t.Error("Unapproved actions must not touch the module")
	}
}

func TestSameResourceActionsRunInPlanOrder(t *testing.T) {
	mod := &fakeModule{domain: models.DomainCompute}
	rec1 := computeRec(false)
	rec2 := computeRec(false)
	rec2.ID = "rec-2"
	// Same resource, so the two actions share an execution group
	act1 := testAction(rec1)
	act2 := testAction(rec2)
	act2.ID = "act-2"
	act2.RecommendationID = "rec-2"

	plan := &models.Plan{
		ID:              "plan-1",
		Recommendations: []*models.Recommendation{rec1, rec2},
		Actions:         []*models.Action{act1, act2},
	}

	exec := newTestExecutor(mod, nil)
	exec.ExecutePlan(context.Background(), plan)

	if act1.Result != models.ResultSuccess || act2.Result != models.ResultSuccess {
		t.Fatalf("Expected both SUCCESS, got %s / %s", act1.Result, act2.Result)
	}
	if len(mod.remediated) != 2 || mod.remediated[0] != "rec-1" || mod.remediated[1] != "rec-2" {
		t.Errorf("Same-resource actions must serialize in plan order, got %v", mod.remediated)
	}
}
