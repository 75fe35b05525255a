package storage

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// AuditEntry records one orchestration event for the audit trail
type AuditEntry struct {
	ID               string
	PlanID           string
	ActionID         string
	RecommendationID string
	Event            string // SCANNED, PLANNED, APPROVED, PREFLIGHT, EXECUTED, DENIED
	Detail           string
	OccurredAt       time.Time
}

// Store persists recommendations, plans, actions and the audit trail.
// Recommendations are never deleted; terminal states are retained so later
// runs can skip already-applied fixes.
type Store interface {
	SaveRecommendation(ctx context.Context, rec *models.Recommendation) error
	UpdateRecommendationState(ctx context.Context, id string, state models.State) error
	ListRecommendations(ctx context.Context, domain models.Domain, limit int) ([]*models.Recommendation, error)

	// TerminalStateFor returns the most recent terminal state recorded
	// for a resource and recommendation kind, if any.
	TerminalStateFor(ctx context.Context, resourceKey string, kind models.Kind) (models.State, bool, error)

	SavePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	UpdatePlanApproval(ctx context.Context, id string, approval models.ApprovalState) error

	SaveAction(ctx context.Context, act *models.Action) error
	UpdateAction(ctx context.Context, act *models.Action) error

	LogAudit(ctx context.Context, entry *AuditEntry) error
	AuditLog(ctx context.Context, planID string) ([]*AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
