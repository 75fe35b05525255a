package modules

import (
	"context"
	"fmt"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
)

// ComputeModule handles VM instances and addresses: idle-resource cleanup
// and machine-type rightsizing.
type ComputeModule struct {
	base
}

// NewComputeModule wires the compute module
func NewComputeModule(recs *source.Gateway, cmd gateway.CommandGateway, log *logger.Logger) *ComputeModule {
	return &ComputeModule{base: newBase(models.DomainCompute, recs, cmd, log)}
}

// Scan delegates to the recommendation gateway and attaches machine-type
// detail for rightsizing findings
func (m *ComputeModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	recs, err := m.recs.Scan(ctx, m.domain, region)

	for _, rec := range recs {
		detail := &models.ComputeDetail{ResourceType: resourceTypeOf(rec.Recommender)}
		if raw := parseRaw(rec); raw != nil {
			detail.CurrentMachineType = raw.OverviewString("currentMachineType")
			detail.RecommendedMachineType = raw.OverviewString("recommendedMachineType")
		}
		rec.Compute = detail
	}

	return recs, err
}

func resourceTypeOf(recommender string) string {
	switch recommender {
	case "google.compute.address.IdleResourceRecommender":
		return "address"
	default:
		return "instance"
	}
}

// VerifySafe re-confirms the resource's live state right before remediation
func (m *ComputeModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error {
	status, err := m.describe(ctx, rec.Resource)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rec.Resource.Key(), err)
	}

	switch rec.Kind {
	case models.KindRightsizing:
		if rec.Compute != nil && rec.Compute.CurrentMachineType != "" &&
			status.MachineType != rec.Compute.CurrentMachineType {
			return Unsafe(fmt.Sprintf("machine type changed since scan: %s", status.MachineType))
		}
	case models.KindIdleResource:
		if rec.Compute != nil && rec.Compute.ResourceType == "address" {
			if len(status.Users) > 0 {
				return Unsafe("address is attached to a resource")
			}
			return nil
		}
		if status.Status == "TERMINATED" {
			return Unsafe("instance already terminated")
		}
	}

	return nil
}

// Operations composes the remediation sequence.
//
// Rightsizing resizes through a stop/resize/start sequence, strictly in that
// order. Idle instances are imaged before deletion; idle addresses get a
// confirmation record instead of a snapshot.
func (m *ComputeModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	ref := rec.Resource

	switch rec.Kind {
	case models.KindRightsizing:
		target := ""
		if rec.Compute != nil {
			target = rec.Compute.RecommendedMachineType
		}
		return []models.OperationSpec{
			{Verb: models.OpStop, Resource: ref},
			{Verb: models.OpResize, Resource: ref, Target: target},
			{Verb: models.OpStart, Resource: ref},
		}
	case models.KindIdleResource:
		if rec.Compute != nil && rec.Compute.ResourceType == "address" {
			return []models.OperationSpec{
				{Verb: models.OpConfirm, Resource: ref, Safeguard: true, Params: map[string]string{"name": artifactName(rec)}},
				{Verb: models.OpDelete, Resource: ref},
			}
		}
		return []models.OperationSpec{
			{Verb: models.OpSnapshot, Resource: ref, Safeguard: true, Params: map[string]string{"name": artifactName(rec)}},
			{Verb: models.OpDelete, Resource: ref},
		}
	}

	return nil
}

// Safeguard produces the machine image or confirmation record ahead of a
// destructive step
func (m *ComputeModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runSafeguard(ctx, act, m.Operations(rec))
}

// Remediate executes the composed sequence. A rightsizing failure after stop
// leaves the instance recorded as stopped rather than silently lost.
func (m *ComputeModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	noteFor := func(done int) string {
		if rec.Kind == models.KindRightsizing && done >= 1 {
			return "stopped, needs manual restart"
		}
		return ""
	}
	return m.runRemediation(ctx, act, m.Operations(rec), noteFor)
}
