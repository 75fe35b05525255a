package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// MemoryStore is an in-process Store used for tests and storage-less runs.
// Contents do not survive the process, so cross-run idempotence checks only
// work against the Postgres store.
type MemoryStore struct {
	mu              sync.RWMutex
	recommendations map[string]*models.Recommendation
	plans           map[string]*models.Plan
	actions         map[string]*models.Action
	audit           []*AuditEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recommendations: make(map[string]*models.Recommendation),
		plans:           make(map[string]*models.Plan),
		actions:         make(map[string]*models.Action),
	}
}

func (s *MemoryStore) SaveRecommendation(ctx context.Context, rec *models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	copied := *rec
	s.recommendations[rec.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateRecommendationState(ctx context.Context, id string, state models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recommendations[id]
	if !ok {
		return fmt.Errorf("recommendation not found: %s", id)
	}
	rec.State = state
	return nil
}

func (s *MemoryStore) ListRecommendations(ctx context.Context, domain models.Domain, limit int) ([]*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Recommendation
	for _, rec := range s.recommendations {
		if domain != "" && rec.Domain != domain {
			continue
		}
		copied := *rec
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) TerminalStateFor(ctx context.Context, resourceKey string, kind models.Kind) (models.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found models.State
	var at time.Time
	for _, rec := range s.recommendations {
		if rec.Resource.Key() != resourceKey || rec.Kind != kind || !rec.State.Terminal() {
			continue
		}
		if found == "" || rec.CreatedAt.After(at) {
			found = rec.State
			at = rec.CreatedAt
		}
	}
	return found, found != "", nil
}

func (s *MemoryStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans[plan.ID] = plan
	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	return plan, nil
}

func (s *MemoryStore) UpdatePlanApproval(ctx context.Context, id string, approval models.ApprovalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("plan not found: %s", id)
	}
	plan.Approval = approval
	return nil
}

func (s *MemoryStore) SaveAction(ctx context.Context, act *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if act.ID == "" {
		act.ID = uuid.New().String()
	}
	s.actions[act.ID] = act
	return nil
}

func (s *MemoryStore) UpdateAction(ctx context.Context, act *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[act.ID]; !ok {
		return fmt.Errorf("action not found: %s", act.ID)
	}
	s.actions[act.ID] = act
	return nil
}

func (s *MemoryStore) LogAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) AuditLog(ctx context.Context, planID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditEntry
	for _, entry := range s.audit {
		if entry.PlanID == planID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
