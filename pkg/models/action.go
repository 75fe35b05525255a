package models

import "time"

// Effect is the outcome of a policy evaluation for one action
type Effect string

const (
	EffectAllow           Effect = "ALLOW"
	EffectRequireApproval Effect = "REQUIRE_APPROVAL"
	EffectDeny            Effect = "DENY"
)

// PreflightState tracks the safety re-check that runs immediately before
// remediation. Blocked is terminal for the action.
type PreflightState string

const (
	PreflightNotRun  PreflightState = "NOT_RUN"
	PreflightPassed  PreflightState = "PASSED"
	PreflightBlocked PreflightState = "BLOCKED"
)

// ExecutionResult is the terminal outcome of one action. Failed and Skipped
// never auto-retry; a retry is a new action in a later orchestration cycle.
type ExecutionResult string

const (
	ResultPending ExecutionResult = "PENDING"
	ResultSuccess ExecutionResult = "SUCCESS"
	ResultFailed  ExecutionResult = "FAILED"
	ResultSkipped ExecutionResult = "SKIPPED"
	ResultDenied  ExecutionResult = "DENIED"
)

// Operation verbs composed by modules and executed by the command gateway.
// The orchestrator never embeds provider CLI syntax; these are semantic
// requests resolved by the gateway.
const (
	OpDescribe  = "describe"
	OpStop      = "stop"
	OpStart     = "start"
	OpResize    = "resize"
	OpScale     = "scale"
	OpSnapshot  = "snapshot"
	OpBackup    = "backup"
	OpConfirm   = "confirm"
	OpLifecycle = "lifecycle"
	OpDelete    = "delete"
)

// OperationSpec names one operation against one resource abstractly
type OperationSpec struct {
	Verb     string            `json:"verb"`
	Resource ResourceRef       `json:"resource"`
	Target   string            `json:"target,omitempty"`
	Params   map[string]string `json:"params,omitempty"`

	// Safeguard marks operations that produce a safety artifact
	// (snapshot, backup) ahead of a destructive step.
	Safeguard bool `json:"safeguard,omitempty"`

	// ReadOnly operations may be retried on transient failures;
	// mutations are single-shot.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// Action is one remediation unit bound to exactly one recommendation. It is
// owned by the plan that spawned it and does not outlive it.
type Action struct {
	ID               string      `json:"id"`
	PlanID           string      `json:"planId"`
	RecommendationID string      `json:"recommendationId"`
	Resource         ResourceRef `json:"resource"`
	Destructive      bool        `json:"destructive"`

	Decision Effect `json:"decision"`
	Approved bool   `json:"approved"`

	Preflight PreflightState  `json:"preflight"`
	Result    ExecutionResult `json:"result"`
	Reason    string          `json:"reason,omitempty"`

	// SafetyArtifact references the proof of a prerequisite safety step,
	// e.g. a snapshot name produced before a delete.
	SafetyArtifact string `json:"safetyArtifact,omitempty"`

	// ResourceNote records the live resource's state when remediation
	// fails mid-sequence, e.g. "stopped, needs manual restart".
	ResourceNote string `json:"resourceNote,omitempty"`

	// Operations holds the composed operation specs for this action.
	// In dry-run mode they are reported without being executed.
	Operations []OperationSpec `json:"operations,omitempty"`

	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Executable reports whether the action is cleared to run: allowed outright,
// or approval-gated and since confirmed.
func (a *Action) Executable() bool {
	switch a.Decision {
	case EffectAllow:
		return true
	case EffectRequireApproval:
		return a.Approved
	}
	return false
}

// ActionResult is the per-action entry of an execution report
type ActionResult struct {
	ActionID         string          `json:"actionId"`
	RecommendationID string          `json:"recommendationId"`
	Resource         string          `json:"resource"`
	Kind             Kind            `json:"kind"`
	Result           ExecutionResult `json:"result"`
	Reason           string          `json:"reason,omitempty"`
	SafetyArtifact   string          `json:"safetyArtifact,omitempty"`
	ResourceNote     string          `json:"resourceNote,omitempty"`
	Amount           float64         `json:"amount"`
	CurrencyCode     string          `json:"currencyCode"`
	Operations       []OperationSpec `json:"operations,omitempty"`
}

// ExecutionReport enumerates every action's terminal state together with
// potential and realized savings. A plan with failed actions is not a
// wholesale failure; unaffected results stand.
type ExecutionReport struct {
	PlanID           string           `json:"planId"`
	DryRun           bool             `json:"dryRun"`
	PotentialSavings []CurrencyAmount `json:"potentialSavings"`
	RealizedSavings  []CurrencyAmount `json:"realizedSavings"`
	Actions          []ActionResult   `json:"actions"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}
