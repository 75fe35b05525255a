// Package executor drives single remediation actions through their state
// machine: NotRun -> (preflight) -> Blocked | Passed -> (remediate) ->
// Success | Failed. Blocked and Failed are terminal; remediation is a
// non-idempotent side effect on live infrastructure, so nothing here ever
// auto-retries it.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/modules"
	"github.com/opscart/cloud-cost-orchestrator/pkg/policy"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Executor runs the executable actions of a plan through their owning
// modules
type Executor struct {
	modules map[models.Domain]modules.Module
	engine  *policy.Engine
	store   storage.Store
	metrics *metrics.Metrics
	log     *logger.Logger
	workers int
	locks   *keyedMutex
}

// New creates an executor over the given modules. workers bounds concurrent
// remediations to respect provider rate limits.
func New(mods []modules.Module, engine *policy.Engine, store storage.Store, m *metrics.Metrics, log *logger.Logger, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}

	byDomain := make(map[models.Domain]modules.Module, len(mods))
	for _, mod := range mods {
		byDomain[mod.Domain()] = mod
	}

	return &Executor{
		modules: byDomain,
		engine:  engine,
		store:   store,
		metrics: m,
		log:     log,
		workers: workers,
		locks:   newKeyedMutex(),
	}
}

// ExecutePlan runs every executable action of the plan. Actions targeting
// the same resource run sequentially in plan order; disjoint resources run
// concurrently, bounded by the worker pool.
func (e *Executor) ExecutePlan(ctx context.Context, plan *models.Plan) {
	groups := make(map[string][]*models.Action)
	var order []string

	for _, act := range plan.Actions {
		key := act.Resource.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], act)
	}

	work := make(chan []*models.Action)
	var wg sync.WaitGroup

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range work {
				for _, act := range group {
					e.runAction(ctx, plan, act)
				}
			}
		}()
	}

	for _, key := range order {
		work <- groups[key]
	}
	close(work)
	wg.Wait()
}

// runAction drives one action to a terminal state
func (e *Executor) runAction(ctx context.Context, plan *models.Plan, act *models.Action) {
	if !act.Executable() || act.Result != models.ResultPending {
		return
	}

	rec := plan.Recommendation(act.RecommendationID)
	if rec == nil {
		e.finish(ctx, act, models.ResultFailed, "recommendation missing from plan")
		return
	}

	mod, ok := e.modules[rec.Domain]
	if !ok {
		e.finish(ctx, act, models.ResultFailed, fmt.Sprintf("no module for domain %s", rec.Domain))
		return
	}

	unlock := e.locks.Lock(act.Resource.Key())
	defer unlock()

	act.StartedAt = time.Now()
	e.audit(ctx, act, "PREFLIGHT", "")

	// Preflight: re-check live state. Unsafe means Skipped, never Failed,
	// and no command gateway mutation has been issued.
	if err := mod.VerifySafe(ctx, rec); err != nil {
		act.Preflight = models.PreflightBlocked
		if reason, unsafe := modules.IsUnsafe(err); unsafe {
			e.skip(ctx, rec, act, reason)
		} else {
			e.skip(ctx, rec, act, fmt.Sprintf("preflight check failed: %v", err))
		}
		return
	}
	act.Preflight = models.PreflightPassed

	// Past the verifySafe checkpoint, caller cancellation must not abort a
	// half-applied remediation.
	runCtx := context.WithoutCancel(ctx)

	if rec.Destructive {
		if err := mod.Safeguard(runCtx, rec, act); err != nil {
			e.log.Error(err, "safeguard step failed")
			act.Reason = fmt.Sprintf("safeguard failed: %v", err)
		}
	}

	// Final policy gate; a destructive action whose safety artifact never
	// materialized is denied here regardless of other rules.
	decision := e.engine.Evaluate(policy.ActionContext{
		Recommendation: rec,
		Phase:          policy.PhaseExecute,
		SafetyArtifact: act.SafetyArtifact,
	})
	if decision.Effect == models.EffectDeny {
		reason := decision.Reason
		if act.Reason != "" {
			reason = act.Reason + "; " + decision.Reason
		}
		e.deny(ctx, rec, act, decision.Rule, reason)
		return
	}

	if err := mod.Remediate(runCtx, rec, act); err != nil {
		act.Result = models.ResultFailed
		act.Reason = err.Error()
		act.FinishedAt = time.Now()
		rec.State = models.StateFailed
		e.record(ctx, rec, act, "EXECUTED", err.Error())
		return
	}

	act.Result = models.ResultSuccess
	act.Reason = ""
	act.FinishedAt = time.Now()
	rec.State = models.StateApplied
	e.record(ctx, rec, act, "EXECUTED", "")
}

func (e *Executor) skip(ctx context.Context, rec *models.Recommendation, act *models.Action, reason string) {
	act.Result = models.ResultSkipped
	act.Reason = reason
	act.FinishedAt = time.Now()

	// The resource was left untouched; reopen so a later cycle can retry
	// with a fresh safety check.
	rec.State = models.StateOpen
	e.record(ctx, rec, act, "PREFLIGHT", reason)
}

func (e *Executor) deny(ctx context.Context, rec *models.Recommendation, act *models.Action, rule, reason string) {
	act.Result = models.ResultDenied
	act.Reason = reason
	act.FinishedAt = time.Now()
	rec.State = models.StateOpen
	e.record(ctx, rec, act, "DENIED", fmt.Sprintf("%s: %s", rule, reason))
}

func (e *Executor) finish(ctx context.Context, act *models.Action, result models.ExecutionResult, reason string) {
	act.Result = result
	act.Reason = reason
	act.FinishedAt = time.Now()
	e.persist(ctx, nil, act)
	e.count(result)
}

func (e *Executor) record(ctx context.Context, rec *models.Recommendation, act *models.Action, event, detail string) {
	e.audit(ctx, act, event, detail)
	e.persist(ctx, rec, act)
	e.count(act.Result)
}

func (e *Executor) persist(ctx context.Context, rec *models.Recommendation, act *models.Action) {
	if e.store == nil {
		return
	}
	if rec != nil {
		if err := e.store.UpdateRecommendationState(ctx, rec.ID, rec.State); err != nil {
			e.log.Error(err, "failed to persist recommendation state")
		}
	}
	if err := e.store.UpdateAction(ctx, act); err != nil {
		e.log.Error(err, "failed to persist action")
	}
}

func (e *Executor) audit(ctx context.Context, act *models.Action, event, detail string) {
	if e.store == nil {
		return
	}
	entry := &storage.AuditEntry{
		PlanID:           act.PlanID,
		ActionID:         act.ID,
		RecommendationID: act.RecommendationID,
		Event:            event,
		Detail:           detail,
	}
	if err := e.store.LogAudit(ctx, entry); err != nil {
		e.log.Error(err, "failed to write audit entry")
	}
}

func (e *Executor) count(result models.ExecutionResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActionsTotal.WithLabelValues(string(result)).Inc()
}
