package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore opens a connection pool and runs migrations
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, dsn: dsn}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema, err := migrationsFS.ReadFile("migrations/001_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func (s *PostgresStore) SaveRecommendation(ctx context.Context, rec *models.Recommendation) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO recommendations (
			id, domain, resource_key, kind, recommender, description,
			environment, units, nanos, currency, period_seconds, amount,
			cost_increase, malformed, destructive, state, warnings, raw,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			amount = EXCLUDED.amount,
			warnings = EXCLUDED.warnings
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Domain, rec.Resource.Key(), rec.Kind, rec.Recommender, rec.Description,
		rec.Environment, rec.Impact.Units, rec.Impact.Nanos, rec.Impact.CurrencyCode,
		int64(rec.Impact.Period.Seconds()), rec.Impact.Amount,
		rec.Impact.CostIncrease, rec.Impact.Malformed, rec.Destructive, rec.State,
		pq.Array(rec.Warnings), []byte(rec.Raw), rec.CreatedAt,
	)

	return err
}

func (s *PostgresStore) UpdateRecommendationState(ctx context.Context, id string, state models.State) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recommendations SET state = $1 WHERE id = $2`, state, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("recommendation not found: %s", id)
	}

	return nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, domain models.Domain, limit int) ([]*models.Recommendation, error) {
	query := `
		SELECT id, domain, resource_key, kind, recommender, description,
			environment, units, nanos, currency, period_seconds, amount,
			cost_increase, malformed, destructive, state, warnings, raw,
			created_at
		FROM recommendations
		WHERE ($1 = '' OR domain = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, string(domain), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

func (s *PostgresStore) TerminalStateFor(ctx context.Context, resourceKey string, kind models.Kind) (models.State, bool, error) {
	query := `
		SELECT state FROM recommendations
		WHERE resource_key = $1 AND kind = $2
			AND state IN ('APPLIED', 'DISMISSED', 'FAILED')
		ORDER BY created_at DESC
		LIMIT 1
	`

	var state models.State
	err := s.db.QueryRowContext(ctx, query, resourceKey, kind).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return state, true, nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	savings, err := json.Marshal(plan.PotentialSavings)
	if err != nil {
		return err
	}
	failures, err := json.Marshal(plan.ScanFailures)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, approval, potential_savings, scan_failures, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET approval = EXCLUDED.approval
	`, plan.ID, plan.Approval, savings, failures, plan.CreatedAt)
	if err != nil {
		return err
	}

	for i, rec := range plan.Recommendations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_recommendations (plan_id, recommendation_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (plan_id, recommendation_id) DO NOTHING
		`, plan.ID, rec.ID, i)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	var savings, failures []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, approval, potential_savings, scan_failures, created_at
		FROM plans WHERE id = $1
	`, id).Scan(&plan.ID, &plan.Approval, &savings, &failures, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	if len(savings) > 0 {
		if err := json.Unmarshal(savings, &plan.PotentialSavings); err != nil {
			return nil, err
		}
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &plan.ScanFailures); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.domain, r.resource_key, r.kind, r.recommender, r.description,
			r.environment, r.units, r.nanos, r.currency, r.period_seconds, r.amount,
			r.cost_increase, r.malformed, r.destructive, r.state, r.warnings, r.raw,
			r.created_at
		FROM recommendations r
		JOIN plan_recommendations pr ON pr.recommendation_id = r.id
		WHERE pr.plan_id = $1
		ORDER BY pr.position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		plan.Recommendations = append(plan.Recommendations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	actions, err := s.planActions(ctx, id)
	if err != nil {
		return nil, err
	}
	plan.Actions = actions

	return &plan, nil
}

func (s *PostgresStore) planActions(ctx context.Context, planID string) ([]*models.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, recommendation_id, resource_key, destructive,
			decision, approved, preflight, result, reason, safety_artifact,
			resource_note, operations, started_at, finished_at
		FROM actions WHERE plan_id = $1
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.Action
	for rows.Next() {
		var act models.Action
		var resourceKey string
		var reason, artifact, note sql.NullString
		var ops []byte
		var started, finished sql.NullTime

		err := rows.Scan(
			&act.ID, &act.PlanID, &act.RecommendationID, &resourceKey, &act.Destructive,
			&act.Decision, &act.Approved, &act.Preflight, &act.Result, &reason, &artifact,
			&note, &ops, &started, &finished,
		)
		if err != nil {
			return nil, err
		}

		act.Resource = models.ResourceRef{Name: resourceKey}
		act.Reason = reason.String
		act.SafetyArtifact = artifact.String
		act.ResourceNote = note.String
		if len(ops) > 0 {
			if err := json.Unmarshal(ops, &act.Operations); err != nil {
				return nil, err
			}
		}
		if started.Valid {
			act.StartedAt = started.Time
		}
		if finished.Valid {
			act.FinishedAt = finished.Time
		}

		actions = append(actions, &act)
	}

	return actions, rows.Err()
}

func (s *PostgresStore) UpdatePlanApproval(ctx context.Context, id string, approval models.ApprovalState) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET approval = $1 WHERE id = $2`, approval, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("plan not found: %s", id)
	}

	return nil
}

func (s *PostgresStore) SaveAction(ctx context.Context, act *models.Action) error {
	if act.ID == "" {
		act.ID = uuid.New().String()
	}

	ops, err := json.Marshal(act.Operations)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (
			id, plan_id, recommendation_id, resource_key, destructive,
			decision, approved, preflight, result, reason, safety_artifact,
			resource_note, operations, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		act.ID, act.PlanID, act.RecommendationID, act.Resource.Key(), act.Destructive,
		act.Decision, act.Approved, act.Preflight, act.Result, act.Reason, act.SafetyArtifact,
		act.ResourceNote, ops, nullTime(act.StartedAt), nullTime(act.FinishedAt),
	)

	return err
}

func (s *PostgresStore) UpdateAction(ctx context.Context, act *models.Action) error {
	ops, err := json.Marshal(act.Operations)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE actions SET
			approved = $1, preflight = $2, result = $3, reason = $4,
			safety_artifact = $5, resource_note = $6, operations = $7,
			started_at = $8, finished_at = $9
		WHERE id = $10
	`,
		act.Approved, act.Preflight, act.Result, act.Reason,
		act.SafetyArtifact, act.ResourceNote, ops,
		nullTime(act.StartedAt), nullTime(act.FinishedAt), act.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("action not found: %s", act.ID)
	}

	return nil
}

func (s *PostgresStore) LogAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, plan_id, action_id, recommendation_id, event, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.PlanID, entry.ActionID, entry.RecommendationID, entry.Event, entry.Detail, entry.OccurredAt)

	return err
}

func (s *PostgresStore) AuditLog(ctx context.Context, planID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, action_id, recommendation_id, event, detail, occurred_at
		FROM audit_log
		WHERE plan_id = $1
		ORDER BY occurred_at
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var actionID, recID, detail sql.NullString

		err := rows.Scan(&entry.ID, &entry.PlanID, &actionID, &recID, &entry.Event, &detail, &entry.OccurredAt)
		if err != nil {
			return nil, err
		}

		entry.ActionID = actionID.String
		entry.RecommendationID = recID.String
		entry.Detail = detail.String
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanRecommendation reads one recommendation row
func scanRecommendation(rows *sql.Rows) (*models.Recommendation, error) {
	var rec models.Recommendation
	var resourceKey string
	var description, environment, currency sql.NullString
	var periodSeconds int64
	var warnings pq.StringArray
	var raw []byte

	err := rows.Scan(
		&rec.ID, &rec.Domain, &resourceKey, &rec.Kind, &rec.Recommender, &description,
		&environment, &rec.Impact.Units, &rec.Impact.Nanos, &currency, &periodSeconds,
		&rec.Impact.Amount, &rec.Impact.CostIncrease, &rec.Impact.Malformed,
		&rec.Destructive, &rec.State, &warnings, &raw, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Description = description.String
	rec.Environment = environment.String
	rec.Impact.CurrencyCode = currency.String
	rec.Impact.Period = time.Duration(periodSeconds) * time.Second
	rec.Warnings = warnings
	rec.Raw = raw
	rec.Resource = parseResourceKey(resourceKey)

	return &rec, nil
}

// parseResourceKey reverses ResourceRef.Key for stored rows
func parseResourceKey(key string) models.ResourceRef {
	var ref models.ResourceRef
	parts := strings.Split(key, "/")
	switch len(parts) {
	case 4:
		ref.Project, ref.Region, ref.Zone, ref.Name = parts[0], parts[1], parts[2], parts[3]
	case 3:
		ref.Project, ref.Region, ref.Name = parts[0], parts[1], parts[2]
	case 2:
		ref.Project, ref.Name = parts[0], parts[1]
	case 1:
		ref.Name = parts[0]
	}
	return ref
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
