// Package policy evaluates global and per-resource rules against candidate
// actions. The rule set is loaded once at startup and never mutated during a
// run; evaluation is a pure function of (action context, rule set).
package policy

import (
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Phase distinguishes the plan-time partition pass from the final gate run
// just before remediation. The safety-artifact requirement only applies at
// execution time, since modules produce artifacts as part of executing.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
)

// Match is a predicate over recommendation attributes. Empty fields match
// everything, so a rule with an empty match is global.
type Match struct {
	Domain      models.Domain `yaml:"domain,omitempty" validate:"omitempty,oneof=compute database container storage"`
	Kind        models.Kind   `yaml:"kind,omitempty" validate:"omitempty,oneof=IDLE_RESOURCE RIGHTSIZING LIFECYCLE"`
	Environment string        `yaml:"environment,omitempty"`
	Destructive *bool         `yaml:"destructive,omitempty"`

	// MinAmount matches recommendations whose normalized impact is at
	// least this amount, e.g. to gate large changes behind approval.
	MinAmount float64 `yaml:"minAmount,omitempty" validate:"gte=0"`
}

// Rule binds a match predicate to an effect
type Rule struct {
	Name   string        `yaml:"name" validate:"required"`
	Effect models.Effect `yaml:"effect" validate:"required,oneof=ALLOW REQUIRE_APPROVAL DENY"`
	Match  Match         `yaml:"match"`
}

// Set is the process-wide rule configuration
type Set struct {
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// ActionContext is the input to one evaluation
type ActionContext struct {
	Recommendation *models.Recommendation
	Phase          Phase
	SafetyArtifact string
}

// Decision is the evaluation outcome, with the deciding rule for audit
type Decision struct {
	Effect models.Effect
	Rule   string
	Reason string
}

// Engine evaluates a fixed rule set
type Engine struct {
	set *Set
}

// NewEngine wraps an immutable rule set
func NewEngine(set *Set) *Engine {
	if set == nil {
		set = &Set{}
	}
	return &Engine{set: set}
}

// Evaluate applies the rule set to one candidate action. Deny rules are
// checked first and any match short-circuits, then RequireApproval, then the
// default Allow. A destructive action with no safety artifact is denied at
// execution time regardless of other rules.
func (e *Engine) Evaluate(ctx ActionContext) Decision {
	rec := ctx.Recommendation

	if ctx.Phase == PhaseExecute && rec.Destructive && ctx.SafetyArtifact == "" {
		return Decision{
			Effect: models.EffectDeny,
			Rule:   "builtin/safety-artifact",
			Reason: "destructive action has no safety artifact",
		}
	}

	for _, rule := range e.set.Rules {
		if rule.Effect == models.EffectDeny && rule.Match.matches(rec) {
			return Decision{Effect: models.EffectDeny, Rule: rule.Name, Reason: "matched deny rule"}
		}
	}

	for _, rule := range e.set.Rules {
		if rule.Effect == models.EffectRequireApproval && rule.Match.matches(rec) {
			return Decision{Effect: models.EffectRequireApproval, Rule: rule.Name, Reason: "matched approval rule"}
		}
	}

	for _, rule := range e.set.Rules {
		if rule.Effect == models.EffectAllow && rule.Match.matches(rec) {
			return Decision{Effect: models.EffectAllow, Rule: rule.Name, Reason: "matched allow rule"}
		}
	}

	return Decision{Effect: models.EffectAllow, Rule: "", Reason: "no rule matched"}
}

func (m Match) matches(rec *models.Recommendation) bool {
	if m.Domain != "" && m.Domain != rec.Domain {
		return false
	}
	if m.Kind != "" && m.Kind != rec.Kind {
		return false
	}
	if m.Environment != "" && m.Environment != rec.Environment {
		return false
	}
	if m.Destructive != nil && *m.Destructive != rec.Destructive {
		return false
	}
	if m.MinAmount > 0 && rec.Impact.Amount < m.MinAmount {
		return false
	}
	return true
}
