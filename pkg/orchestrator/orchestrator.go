// Package orchestrator runs the optimization cycle end to end: scan the
// registered modules, price and filter what they found, fold the survivors
// into an immutable plan, gate the plan through policy, and hand approved
// actions to the executor.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/cloud-cost-orchestrator/pkg/executor"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/modules"
	"github.com/opscart/cloud-cost-orchestrator/pkg/policy"
	"github.com/opscart/cloud-cost-orchestrator/pkg/savings"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Options tunes the orchestration cycle
type Options struct {
	// ScanTimeout bounds each (domain, region) scan call
	ScanTimeout time.Duration
}

// DefaultScanTimeout bounds a single scan call when no override is given
const DefaultScanTimeout = 60 * time.Second

// Orchestrator coordinates modules, policy, storage and the executor
type Orchestrator struct {
	modules  []modules.Module
	byDomain map[models.Domain]modules.Module
	engine   *policy.Engine
	exec     *executor.Executor
	store    storage.Store
	metrics  *metrics.Metrics
	log      *logger.Logger

	scanTimeout time.Duration
	inflight    *inflightGuard

	mu    sync.Mutex
	plans map[string]*models.Plan
}

// New wires an orchestrator over the given modules
func New(mods []modules.Module, engine *policy.Engine, exec *executor.Executor, store storage.Store, m *metrics.Metrics, log *logger.Logger, opts Options) *Orchestrator {
	timeout := opts.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	byDomain := make(map[models.Domain]modules.Module, len(mods))
	for _, mod := range mods {
		byDomain[mod.Domain()] = mod
	}

	return &Orchestrator{
		modules:     mods,
		byDomain:    byDomain,
		engine:      engine,
		exec:        exec,
		store:       store,
		metrics:     m,
		log:         log,
		scanTimeout: timeout,
		inflight:    newInflightGuard(),
		plans:       make(map[string]*models.Plan),
	}
}

// scanResult carries one (domain, region) scan outcome back to the collector
type scanResult struct {
	domain models.Domain
	region string
	recs   []*models.Recommendation
	err    error
}

// Scan runs one orchestration cycle up to the plan: concurrent scans across
// the requested domains and regions, cost normalization, idempotence
// filtering against stored terminal states, and the plan-phase policy pass.
// A failing (domain, region) pair is recorded on the plan, not fatal.
func (o *Orchestrator) Scan(ctx context.Context, domains []models.Domain, regions []string) (*models.Plan, error) {
	if len(domains) == 0 {
		for _, mod := range o.modules {
			domains = append(domains, mod.Domain())
		}
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}

	results := make(chan scanResult)
	var wg sync.WaitGroup
	var skipped []models.ScanFailure

	for _, domain := range domains {
		mod, ok := o.byDomain[domain]
		if !ok {
			return nil, fmt.Errorf("no module registered for domain %s", domain)
		}
		for _, region := range regions {
			key := string(domain) + "/" + region
			if !o.inflight.TryAcquire(key) {
				skipped = append(skipped, models.ScanFailure{
					Domain: domain,
					Region: region,
					Reason: "scan already in flight, skipped",
				})
				continue
			}

			wg.Add(1)
			go func(mod modules.Module, domain models.Domain, region string) {
				defer wg.Done()
				defer o.inflight.Release(key)

				scanCtx, cancel := context.WithTimeout(ctx, o.scanTimeout)
				defer cancel()

				recs, err := mod.Scan(scanCtx, region)
				results <- scanResult{domain: domain, region: region, recs: recs, err: err}
			}(mod, domain, region)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var recs []*models.Recommendation
	var failures []models.ScanFailure
	seen := make(map[string]bool)

	for res := range results {
		o.countScan(res)
		if res.err != nil {
			failures = append(failures, models.ScanFailure{
				Domain: res.domain,
				Region: res.region,
				Reason: res.err.Error(),
			})
			o.log.Warn(fmt.Sprintf("scan %s/%s: %v", res.domain, res.region, res.err))
		}
		// The global location and regional scans can surface the same
		// finding; keep the first copy.
		for _, rec := range res.recs {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			recs = append(recs, rec)
		}
	}
	failures = append(failures, skipped...)

	for _, rec := range recs {
		savings.Normalize(rec)
	}

	open, err := o.filter(ctx, recs)
	if err != nil {
		return nil, err
	}

	plan := o.buildPlan(ctx, open, failures)
	return plan, nil
}

// filter drops findings whose resource already carries a terminal success:
// APPLIED and DISMISSED suppress re-offering, FAILED does not.
func (o *Orchestrator) filter(ctx context.Context, recs []*models.Recommendation) ([]*models.Recommendation, error) {
	if o.store == nil {
		return recs, nil
	}

	open := recs[:0]
	for _, rec := range recs {
		state, found, err := o.store.TerminalStateFor(ctx, rec.Resource.Key(), rec.Kind)
		if err != nil {
			return nil, fmt.Errorf("terminal state lookup for %s: %w", rec.Resource.Key(), err)
		}
		if found && (state == models.StateApplied || state == models.StateDismissed) {
			o.log.Debug(fmt.Sprintf("skipping %s: resource already %s", rec.ID, state))
			continue
		}
		open = append(open, rec)
	}
	return open, nil
}

// buildPlan folds the surviving recommendations into an immutable plan and
// runs the plan-phase policy pass over each one
func (o *Orchestrator) buildPlan(ctx context.Context, recs []*models.Recommendation, failures []models.ScanFailure) *models.Plan {
	plan := &models.Plan{
		ID:               uuid.New().String(),
		CreatedAt:        time.Now(),
		Recommendations:  recs,
		PotentialSavings: savings.Aggregate(recs),
		Approval:         models.ApprovalPending,
		ScanFailures:     failures,
	}

	for _, rec := range recs {
		decision := o.engine.Evaluate(policy.ActionContext{
			Recommendation: rec,
			Phase:          policy.PhasePlan,
		})

		act := &models.Action{
			ID:               uuid.New().String(),
			PlanID:           plan.ID,
			RecommendationID: rec.ID,
			Resource:         rec.Resource,
			Destructive:      rec.Destructive,
			Decision:         decision.Effect,
			Preflight:        models.PreflightNotRun,
			Result:           models.ResultPending,
		}

		if mod, ok := o.byDomain[rec.Domain]; ok {
			act.Operations = mod.Operations(rec)
		}

		switch decision.Effect {
		case models.EffectDeny:
			// Denied at plan time: recorded on the plan, never executed.
			act.Result = models.ResultDenied
			act.Reason = fmt.Sprintf("%s: %s", decision.Rule, decision.Reason)
		default:
			rec.State = models.StateClaimed
		}

		plan.Actions = append(plan.Actions, act)
	}

	o.persistPlan(ctx, plan)
	o.gauge(o.metricsPotential(), plan.PotentialSavings)

	o.mu.Lock()
	o.plans[plan.ID] = plan
	o.mu.Unlock()

	return plan
}

// Approve marks the plan approved and confirms the named approval-gated
// actions. An empty actionIDs list confirms every action awaiting approval.
func (o *Orchestrator) Approve(ctx context.Context, planID string, actionIDs []string) (*models.Plan, error) {
	plan, err := o.plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Approval == models.ApprovalRejected {
		return nil, fmt.Errorf("plan %s was rejected and cannot be approved", planID)
	}

	wanted := make(map[string]bool, len(actionIDs))
	for _, id := range actionIDs {
		wanted[id] = true
	}

	for _, act := range plan.Actions {
		if act.Decision != models.EffectRequireApproval {
			continue
		}
		if len(actionIDs) > 0 && !wanted[act.ID] {
			continue
		}
		act.Approved = true
		if o.store != nil {
			if err := o.store.UpdateAction(ctx, act); err != nil {
				return nil, fmt.Errorf("persisting approval for action %s: %w", act.ID, err)
			}
		}
	}

	plan.Approval = models.ApprovalApproved
	if o.store != nil {
		if err := o.store.UpdatePlanApproval(ctx, planID, models.ApprovalApproved); err != nil {
			return nil, fmt.Errorf("persisting plan approval: %w", err)
		}
		o.auditPlan(ctx, plan, "APPROVED", "")
	}
	return plan, nil
}

// Reject marks the plan rejected; none of its actions will ever execute
func (o *Orchestrator) Reject(ctx context.Context, planID string) (*models.Plan, error) {
	plan, err := o.plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Approval == models.ApprovalApproved {
		return nil, fmt.Errorf("plan %s was already approved", planID)
	}

	plan.Approval = models.ApprovalRejected
	for _, rec := range plan.Recommendations {
		if rec.State == models.StateClaimed {
			rec.State = models.StateOpen
			if o.store != nil {
				if err := o.store.UpdateRecommendationState(ctx, rec.ID, rec.State); err != nil {
					return nil, fmt.Errorf("reopening recommendation %s: %w", rec.ID, err)
				}
			}
		}
	}
	if o.store != nil {
		if err := o.store.UpdatePlanApproval(ctx, planID, models.ApprovalRejected); err != nil {
			return nil, fmt.Errorf("persisting plan rejection: %w", err)
		}
		o.auditPlan(ctx, plan, "REJECTED", "")
	}
	return plan, nil
}

// Execute runs the plan's executable actions and reports every action's
// terminal state. With dryRun set, the composed operation specs are reported
// verbatim and no command gateway call is made.
func (o *Orchestrator) Execute(ctx context.Context, planID string, dryRun bool) (*models.ExecutionReport, error) {
	plan, err := o.plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Approval == models.ApprovalRejected {
		return nil, fmt.Errorf("plan %s was rejected", planID)
	}

	if !dryRun {
		o.exec.ExecutePlan(ctx, plan)
	}

	report := o.report(plan, dryRun)
	o.gauge(o.metricsRealized(), report.RealizedSavings)
	return report, nil
}

// report assembles the execution report from the plan's current state
func (o *Orchestrator) report(plan *models.Plan, dryRun bool) *models.ExecutionReport {
	report := &models.ExecutionReport{
		PlanID:           plan.ID,
		DryRun:           dryRun,
		PotentialSavings: plan.PotentialSavings,
		GeneratedAt:      time.Now(),
	}

	var realized []*models.Recommendation
	for _, act := range plan.Actions {
		rec := plan.Recommendation(act.RecommendationID)
		if rec == nil {
			continue
		}

		entry := models.ActionResult{
			ActionID:         act.ID,
			RecommendationID: rec.ID,
			Resource:         rec.Resource.Key(),
			Kind:             rec.Kind,
			Result:           act.Result,
			Reason:           act.Reason,
			SafetyArtifact:   act.SafetyArtifact,
			ResourceNote:     act.ResourceNote,
			Amount:           rec.Impact.Amount,
			CurrencyCode:     rec.Impact.CurrencyCode,
		}
		if dryRun {
			entry.Operations = act.Operations
			if act.Result == models.ResultPending {
				entry.Reason = "dry run, not executed"
			}
		}
		report.Actions = append(report.Actions, entry)

		if act.Result == models.ResultSuccess {
			realized = append(realized, rec)
		}
	}

	report.RealizedSavings = savings.Aggregate(realized)
	return report
}

// plan resolves a plan from the in-memory registry, falling back to storage
func (o *Orchestrator) plan(ctx context.Context, planID string) (*models.Plan, error) {
	o.mu.Lock()
	plan, ok := o.plans[planID]
	o.mu.Unlock()
	if ok {
		return plan, nil
	}

	if o.store == nil {
		return nil, fmt.Errorf("unknown plan %s", planID)
	}
	plan, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", planID, err)
	}

	o.mu.Lock()
	o.plans[planID] = plan
	o.mu.Unlock()
	return plan, nil
}

func (o *Orchestrator) persistPlan(ctx context.Context, plan *models.Plan) {
	if o.store == nil {
		return
	}
	for _, rec := range plan.Recommendations {
		if err := o.store.SaveRecommendation(ctx, rec); err != nil {
			o.log.Error(err, "failed to persist recommendation")
		}
	}
	if err := o.store.SavePlan(ctx, plan); err != nil {
		o.log.Error(err, "failed to persist plan")
		return
	}
	for _, act := range plan.Actions {
		if err := o.store.SaveAction(ctx, act); err != nil {
			o.log.Error(err, "failed to persist action")
		}
	}
	o.auditPlan(ctx, plan, "PLANNED", fmt.Sprintf("%d recommendations, %d actions", len(plan.Recommendations), len(plan.Actions)))
}

func (o *Orchestrator) auditPlan(ctx context.Context, plan *models.Plan, event, detail string) {
	if o.store == nil {
		return
	}
	entry := &storage.AuditEntry{PlanID: plan.ID, Event: event, Detail: detail}
	if err := o.store.LogAudit(ctx, entry); err != nil {
		o.log.Error(err, "failed to write audit entry")
	}
}

func (o *Orchestrator) countScan(res scanResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.ScansTotal.WithLabelValues(string(res.domain), res.region).Inc()
	if res.err != nil {
		o.metrics.ScanFailuresTotal.WithLabelValues(string(res.domain), res.region).Inc()
	}
	if len(res.recs) > 0 {
		o.metrics.RecommendationsFound.WithLabelValues(string(res.domain)).Add(float64(len(res.recs)))
	}
}

func (o *Orchestrator) metricsPotential() func(string, float64) {
	if o.metrics == nil {
		return nil
	}
	return func(currency string, amount float64) {
		o.metrics.PotentialSavings.WithLabelValues(currency).Set(amount)
	}
}

func (o *Orchestrator) metricsRealized() func(string, float64) {
	if o.metrics == nil {
		return nil
	}
	return func(currency string, amount float64) {
		o.metrics.RealizedSavings.WithLabelValues(currency).Set(amount)
	}
}

func (o *Orchestrator) gauge(set func(string, float64), amounts []models.CurrencyAmount) {
	if set == nil {
		return
	}
	for _, ca := range amounts {
		set(ca.CurrencyCode, ca.Amount)
	}
}
