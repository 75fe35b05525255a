package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Domain identifies the resource domain a recommendation belongs to
type Domain string

const (
	DomainCompute   Domain = "compute"
	DomainDatabase  Domain = "database"
	DomainContainer Domain = "container"
	DomainStorage   Domain = "storage"
)

// AllDomains lists every supported domain in scan order
var AllDomains = []Domain{DomainCompute, DomainDatabase, DomainContainer, DomainStorage}

// ParseDomain converts a user-supplied string into a Domain
func ParseDomain(s string) (Domain, bool) {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case DomainCompute:
		return DomainCompute, true
	case DomainDatabase:
		return DomainDatabase, true
	case DomainContainer:
		return DomainContainer, true
	case DomainStorage:
		return DomainStorage, true
	}
	return "", false
}

// Kind classifies what a recommendation proposes
type Kind string

const (
	KindIdleResource Kind = "IDLE_RESOURCE"
	KindRightsizing  Kind = "RIGHTSIZING"
	KindLifecycle    Kind = "LIFECYCLE"
)

// State tracks a recommendation through its lifecycle.
// Transitions: OPEN -> CLAIMED -> APPLIED | DISMISSED | FAILED.
// Terminal states are retained for idempotence checks across runs.
type State string

const (
	StateOpen      State = "OPEN"
	StateClaimed   State = "CLAIMED"
	StateApplied   State = "APPLIED"
	StateDismissed State = "DISMISSED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	return s == StateApplied || s == StateDismissed || s == StateFailed
}

// ResourceRef identifies one cloud resource
type ResourceRef struct {
	Project string `json:"project"`
	Region  string `json:"region"`
	Zone    string `json:"zone,omitempty"`
	Name    string `json:"name"`
}

// Key returns a stable identifier used for idempotence checks and
// per-resource mutual exclusion during execution
func (r ResourceRef) Key() string {
	parts := []string{r.Project, r.Region}
	if r.Zone != "" {
		parts = append(parts, r.Zone)
	}
	parts = append(parts, r.Name)
	return strings.Join(parts, "/")
}

func (r ResourceRef) String() string {
	return r.Key()
}

// CostImpact carries the provider-supplied cost projection. Units and Nanos
// are passed through from the source unmodified; Amount is filled in by the
// savings calculator and is always non-negative.
type CostImpact struct {
	Units        int64         `json:"units"`
	Nanos        int64         `json:"nanos"`
	CurrencyCode string        `json:"currencyCode"`
	Period       time.Duration `json:"period"`

	Amount       float64 `json:"amount"`
	CostIncrease bool    `json:"costIncrease,omitempty"`
	Malformed    bool    `json:"malformed,omitempty"`
}

// Recommendation is a normalized optimization finding for one resource
type Recommendation struct {
	ID          string      `json:"id"`
	Domain      Domain      `json:"domain"`
	Resource    ResourceRef `json:"resource"`
	Kind        Kind        `json:"kind"`
	Recommender string      `json:"recommender"`
	Description string      `json:"description,omitempty"`
	Environment string      `json:"environment,omitempty"`

	Impact CostImpact `json:"impact"`
	State  State      `json:"state"`

	// Destructive marks recommendations whose remediation deletes or
	// irreversibly alters the resource. Set by the owning module.
	Destructive bool `json:"destructive"`

	// Domain-specific detail; exactly one is non-nil, matching Domain.
	Compute   *ComputeDetail   `json:"compute,omitempty"`
	Database  *DatabaseDetail  `json:"database,omitempty"`
	Container *ContainerDetail `json:"container,omitempty"`
	Storage   *StorageDetail   `json:"storage,omitempty"`

	// Raw preserves the source payload for audit
	Raw json.RawMessage `json:"raw,omitempty"`

	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ComputeDetail describes VM instance and address recommendations
type ComputeDetail struct {
	ResourceType           string `json:"resourceType"` // instance, address
	CurrentMachineType     string `json:"currentMachineType,omitempty"`
	RecommendedMachineType string `json:"recommendedMachineType,omitempty"`
	IdleDays               int    `json:"idleDays,omitempty"`
}

// DatabaseDetail describes managed database recommendations
type DatabaseDetail struct {
	Engine          string `json:"engine,omitempty"`
	CurrentTier     string `json:"currentTier,omitempty"`
	RecommendedTier string `json:"recommendedTier,omitempty"`
	ActiveDays      int    `json:"activeDays,omitempty"`
}

// ContainerDetail describes cluster workload recommendations
type ContainerDetail struct {
	Cluster             string `json:"cluster,omitempty"`
	Namespace           string `json:"namespace,omitempty"`
	Workload            string `json:"workload,omitempty"`
	CurrentReplicas     int32  `json:"currentReplicas,omitempty"`
	RecommendedReplicas int32  `json:"recommendedReplicas,omitempty"`
}

// StorageDetail describes disk and bucket recommendations
type StorageDetail struct {
	DiskType     string `json:"diskType,omitempty"`
	SizeGB       int64  `json:"sizeGb,omitempty"`
	LastAttached string `json:"lastAttached,omitempty"`
}
