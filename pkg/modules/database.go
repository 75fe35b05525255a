package modules

import (
	"context"
	"fmt"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
)

// DatabaseModule handles managed database instances: idle-instance cleanup
// and tier rightsizing.
type DatabaseModule struct {
	base
}

// NewDatabaseModule wires the database module
func NewDatabaseModule(recs *source.Gateway, cmd gateway.CommandGateway, log *logger.Logger) *DatabaseModule {
	return &DatabaseModule{base: newBase(models.DomainDatabase, recs, cmd, log)}
}

// Scan delegates to the recommendation gateway and attaches tier detail
func (m *DatabaseModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	recs, err := m.recs.Scan(ctx, m.domain, region)

	for _, rec := range recs {
		detail := &models.DatabaseDetail{}
		if raw := parseRaw(rec); raw != nil {
			detail.Engine = raw.OverviewString("databaseVersion")
			detail.CurrentTier = raw.OverviewString("currentTier")
			detail.RecommendedTier = raw.OverviewString("recommendedTier")
		}
		rec.Database = detail
	}

	return recs, err
}

// VerifySafe re-checks the instance: an idle instance that picked up
// connections since the scan is no longer safe to remove, and a tier that
// drifted invalidates a rightsizing.
func (m *DatabaseModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error {
	status, err := m.describe(ctx, rec.Resource)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rec.Resource.Key(), err)
	}

	switch rec.Kind {
	case models.KindIdleResource:
		if status.ActiveConnections > 0 {
			return Unsafe(fmt.Sprintf("instance has %d active connections", status.ActiveConnections))
		}
	case models.KindRightsizing:
		if rec.Database != nil && rec.Database.CurrentTier != "" &&
			status.Tier != rec.Database.CurrentTier {
			return Unsafe(fmt.Sprintf("tier changed since scan: %s", status.Tier))
		}
	}

	return nil
}

// Operations composes the remediation sequence: idle instances are backed up
// then deleted; overprovisioned instances are resized in place.
func (m *DatabaseModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	ref := rec.Resource

	switch rec.Kind {
	case models.KindIdleResource:
		return []models.OperationSpec{
			{Verb: models.OpBackup, Resource: ref, Safeguard: true, Params: map[string]string{"name": artifactName(rec)}},
			{Verb: models.OpDelete, Resource: ref},
		}
	case models.KindRightsizing:
		target := ""
		if rec.Database != nil {
			target = rec.Database.RecommendedTier
		}
		return []models.OperationSpec{
			{Verb: models.OpResize, Resource: ref, Target: target},
		}
	}

	return nil
}

// Safeguard takes the pre-delete backup
func (m *DatabaseModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runSafeguard(ctx, act, m.Operations(rec))
}

// Remediate executes the composed sequence
func (m *DatabaseModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runRemediation(ctx, act, m.Operations(rec), nil)
}
