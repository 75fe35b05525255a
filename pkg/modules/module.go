// Package modules implements the per-domain optimization modules. Each
// module speaks the same scan/verify/remediate contract; the domain-specific
// knowledge is which recommenders feed it, how to re-check a resource's live
// state, and which operation sequence remediates a finding.
package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
)

// UnsafeError blocks remediation for one action. The resource is left
// untouched and the action ends Skipped, not Failed.
type UnsafeError struct {
	Reason string
}

func (e *UnsafeError) Error() string {
	return "unsafe to remediate: " + e.Reason
}

// Unsafe builds an UnsafeError
func Unsafe(reason string) error {
	return &UnsafeError{Reason: reason}
}

// IsUnsafe reports whether err blocks remediation, with the reason
func IsUnsafe(err error) (string, bool) {
	var ue *UnsafeError
	if errors.As(err, &ue) {
		return ue.Reason, true
	}
	return "", false
}

// Module is the uniform contract every resource domain implements
type Module interface {
	// Domain names the resource domain this module owns
	Domain() models.Domain

	// Scan queries the recommendation gateway for this domain and
	// attaches typed, domain-specific detail to each finding
	Scan(ctx context.Context, region string) ([]*models.Recommendation, error)

	// VerifySafe re-checks the resource's live state immediately before
	// remediation, closing the race window between scan and execution.
	// An UnsafeError blocks the action without touching the resource.
	VerifySafe(ctx context.Context, rec *models.Recommendation) error

	// Operations composes the ordered operation specs that remediate the
	// recommendation, safeguard steps included. Dry-run reports exactly
	// these specs.
	Operations(rec *models.Recommendation) []models.OperationSpec

	// Safeguard executes the safeguard operations and records the
	// resulting safety artifact on the action. Whether an artifact is
	// required is the policy engine's call, not the module's.
	Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error

	// Remediate executes the non-safeguard operations strictly in order.
	// A mid-sequence failure records the resource's state on the action
	// instead of losing track of it.
	Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error
}

// resourceStatus is the structured shape a describe operation returns
// through the command gateway
type resourceStatus struct {
	Status              string   `json:"status,omitempty"`
	MachineType         string   `json:"machineType,omitempty"`
	Tier                string   `json:"tier,omitempty"`
	Users               []string `json:"users,omitempty"`
	ActiveConnections   int      `json:"activeConnections,omitempty"`
	Replicas            int32    `json:"replicas,omitempty"`
	LifecycleConfigured bool     `json:"lifecycleConfigured,omitempty"`
}

// base carries the collaborators every module shares
type base struct {
	domain models.Domain
	recs   *source.Gateway
	cmd    gateway.CommandGateway
	retry  gateway.RetryConfig
	log    *logger.Logger
}

func newBase(domain models.Domain, recs *source.Gateway, cmd gateway.CommandGateway, log *logger.Logger) base {
	return base{
		domain: domain,
		recs:   recs,
		cmd:    cmd,
		retry:  gateway.DefaultRetryConfig,
		log:    log,
	}
}

func (b *base) Domain() models.Domain {
	return b.domain
}

// describe fetches the resource's live state. Read-only, so transient
// gateway failures are retried with backoff.
func (b *base) describe(ctx context.Context, ref models.ResourceRef) (*resourceStatus, error) {
	spec := models.OperationSpec{Verb: models.OpDescribe, Resource: ref, ReadOnly: true}

	var status resourceStatus
	err := gateway.Retry(ctx, b.retry, "describe "+ref.Key(), func(ctx context.Context) error {
		result, err := b.cmd.Execute(ctx, spec)
		if err != nil {
			return err
		}
		return result.Decode(&status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// runSafeguard executes the safeguard specs and records the artifact.
// Safeguard steps are mutations and therefore single-shot.
func (b *base) runSafeguard(ctx context.Context, act *models.Action, specs []models.OperationSpec) error {
	for _, spec := range specs {
		if !spec.Safeguard {
			continue
		}
		if _, err := b.cmd.Execute(ctx, spec); err != nil {
			return fmt.Errorf("safeguard %s on %s: %w", spec.Verb, spec.Resource.Key(), err)
		}
		act.SafetyArtifact = spec.Params["name"]
	}
	return nil
}

// runRemediation executes the non-safeguard specs strictly in order. On
// failure, noteFor translates the progress made so far into a record of the
// resource's live state.
func (b *base) runRemediation(ctx context.Context, act *models.Action, specs []models.OperationSpec, noteFor func(done int) string) error {
	done := 0
	for _, spec := range specs {
		if spec.Safeguard {
			continue
		}
		if _, err := b.cmd.Execute(ctx, spec); err != nil {
			if noteFor != nil {
				act.ResourceNote = noteFor(done)
			}
			return fmt.Errorf("%s on %s: %w", spec.Verb, spec.Resource.Key(), err)
		}
		done++
	}
	return nil
}

// parseRaw recovers the source payload attached to a recommendation
func parseRaw(rec *models.Recommendation) *source.RawRecommendation {
	if len(rec.Raw) == 0 {
		return nil
	}
	var raw source.RawRecommendation
	if err := json.Unmarshal(rec.Raw, &raw); err != nil {
		return nil
	}
	return &raw
}

// artifactName derives the deterministic safety artifact name for a
// recommendation; deterministic so dry-run and execution compose the same
// operation specs.
func artifactName(rec *models.Recommendation) string {
	return rec.Resource.Name + "-safeguard-" + rec.ID
}
