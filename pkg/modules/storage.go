package modules

import (
	"context"
	"fmt"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
)

// StorageModule handles persistent disks and buckets: idle disk cleanup and
// bucket lifecycle configuration.
type StorageModule struct {
	base
}

// NewStorageModule wires the storage module
func NewStorageModule(recs *source.Gateway, cmd gateway.CommandGateway, log *logger.Logger) *StorageModule {
	return &StorageModule{base: newBase(models.DomainStorage, recs, cmd, log)}
}

// Scan delegates to the recommendation gateway and attaches disk detail
func (m *StorageModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	recs, err := m.recs.Scan(ctx, m.domain, region)

	for _, rec := range recs {
		detail := &models.StorageDetail{}
		if raw := parseRaw(rec); raw != nil {
			detail.DiskType = raw.OverviewString("diskType")
			detail.LastAttached = raw.OverviewString("lastAttachedTime")
			if size, ok := raw.Content.Overview["sizeGb"].(float64); ok {
				detail.SizeGB = int64(size)
			}
		}
		rec.Storage = detail
	}

	return recs, err
}

// VerifySafe re-confirms a disk is still unattached before deletion
func (m *StorageModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error {
	status, err := m.describe(ctx, rec.Resource)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rec.Resource.Key(), err)
	}

	switch rec.Kind {
	case models.KindIdleResource:
		if len(status.Users) > 0 {
			return Unsafe("disk is attached to an instance")
		}
	case models.KindLifecycle:
		if status.LifecycleConfigured {
			return Unsafe("bucket lifecycle already configured")
		}
	}

	return nil
}

// Operations composes the remediation sequence: idle disks are snapshotted
// then deleted; lifecycle findings apply a lifecycle configuration in place.
func (m *StorageModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	ref := rec.Resource

	switch rec.Kind {
	case models.KindIdleResource:
		return []models.OperationSpec{
			{Verb: models.OpSnapshot, Resource: ref, Safeguard: true, Params: map[string]string{"name": artifactName(rec)}},
			{Verb: models.OpDelete, Resource: ref},
		}
	case models.KindLifecycle:
		return []models.OperationSpec{
			{Verb: models.OpLifecycle, Resource: ref},
		}
	}

	return nil
}

// Safeguard snapshots the disk ahead of deletion
func (m *StorageModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runSafeguard(ctx, act, m.Operations(rec))
}

// Remediate executes the composed sequence
func (m *StorageModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runRemediation(ctx, act, m.Operations(rec), nil)
}
