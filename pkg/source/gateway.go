package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// recommenderSpec binds one provider recommender to its normalized shape
type recommenderSpec struct {
	ID           string
	Kind         models.Kind
	ResourceType string
	Destructive  bool
}

// domainRecommenders maps each domain to the recommenders queried for it
var domainRecommenders = map[models.Domain][]recommenderSpec{
	models.DomainCompute: {
		{ID: "google.compute.instance.IdleResourceRecommender", Kind: models.KindIdleResource, ResourceType: "instance", Destructive: true},
		{ID: "google.compute.instance.MachineTypeRecommender", Kind: models.KindRightsizing, ResourceType: "instance"},
		{ID: "google.compute.address.IdleResourceRecommender", Kind: models.KindIdleResource, ResourceType: "address", Destructive: true},
	},
	models.DomainDatabase: {
		{ID: "google.cloudsql.instance.IdleRecommender", Kind: models.KindIdleResource, ResourceType: "instance", Destructive: true},
		{ID: "google.cloudsql.instance.OverprovisionedRecommender", Kind: models.KindRightsizing, ResourceType: "instance"},
	},
	models.DomainContainer: {
		{ID: "google.container.workload.RightsizingRecommender", Kind: models.KindRightsizing, ResourceType: "workload"},
		{ID: "google.container.nodepool.IdleResourceRecommender", Kind: models.KindIdleResource, ResourceType: "nodepool"},
	},
	models.DomainStorage: {
		{ID: "google.compute.disk.IdleResourceRecommender", Kind: models.KindIdleResource, ResourceType: "disk", Destructive: true},
		{ID: "google.storage.bucket.LifecycleRecommender", Kind: models.KindLifecycle, ResourceType: "bucket"},
	},
}

// Recommenders returns the recommender IDs queried for a domain
func Recommenders(domain models.Domain) []string {
	specs := domainRecommenders[domain]
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ID)
	}
	return ids
}

// Gateway queries the recommendation source per domain and region and
// normalizes heterogeneous payloads into the common Recommendation shape.
// It is read-only and keeps no state between scans.
type Gateway struct {
	src          RecommendationSource
	project      string
	envByProject map[string]string
	retry        gateway.RetryConfig
	log          *logger.Logger
}

// New creates a recommendation gateway for one project
func New(src RecommendationSource, project string, envByProject map[string]string, log *logger.Logger) *Gateway {
	return &Gateway{
		src:          src,
		project:      project,
		envByProject: envByProject,
		retry:        gateway.DefaultRetryConfig,
		log:          log,
	}
}

// Scan queries every recommender of the domain in the given region and
// returns the normalized findings. A failing recommender does not abort the
// scan: its error is joined into the returned error while results from the
// other recommenders stand. Callers must try both "global" and specific
// regions; an empty result under one scope does not mean none exist.
func (g *Gateway) Scan(ctx context.Context, domain models.Domain, region string) ([]*models.Recommendation, error) {
	specs, ok := domainRecommenders[domain]
	if !ok {
		return nil, fmt.Errorf("unknown domain: %s", domain)
	}

	var recs []*models.Recommendation
	var errs []error

	for _, spec := range specs {
		q := Query{Project: g.project, Location: region, Recommender: spec.ID}

		var raws []RawRecommendation
		err := gateway.Retry(ctx, g.retry, spec.ID, func(ctx context.Context) error {
			var qerr error
			raws, qerr = g.src.Query(ctx, q)
			return qerr
		})
		if err != nil {
			g.log.Warn(fmt.Sprintf("recommender query failed: %s in %s: %v", spec.ID, region, err))
			errs = append(errs, fmt.Errorf("%s in %s: %w", spec.ID, region, err))
			continue
		}

		for i := range raws {
			recs = append(recs, g.normalize(&raws[i], domain, spec, region))
		}
	}

	return recs, errors.Join(errs...)
}

// normalize maps one raw payload into the common Recommendation shape.
// Cost units and nanos are passed through untouched; the savings calculator
// owns the arithmetic.
func (g *Gateway) normalize(raw *RawRecommendation, domain models.Domain, spec recommenderSpec, region string) *models.Recommendation {
	resource := parseResourceName(raw.ResourceName())
	if resource.Project == "" {
		resource.Project = g.project
	}
	if resource.Region == "" {
		resource.Region = region
	}

	rec := &models.Recommendation{
		ID:          recommendationID(raw.Name, spec.ID, resource),
		Domain:      domain,
		Resource:    resource,
		Kind:        spec.Kind,
		Recommender: spec.ID,
		Description: raw.Description,
		State:       mapState(raw.StateInfo.State),
		Destructive: spec.Destructive,
		Environment: g.envByProject[resource.Project],
		CreatedAt:   time.Now().UTC(),
	}

	if proj := raw.PrimaryImpact.CostProjection; proj != nil {
		rec.Impact = models.CostImpact{
			Units:        proj.Cost.Units,
			Nanos:        proj.Cost.Nanos,
			CurrencyCode: proj.Cost.CurrencyCode,
			Period:       parsePeriod(proj.Duration),
		}
	} else {
		rec.Warnings = append(rec.Warnings, "missing cost projection")
	}

	if payload, err := json.Marshal(raw); err == nil {
		rec.Raw = payload
	}

	return rec
}

// recommendationID derives a stable ID from source name, recommender and
// resource; unique per source+resource+recommender kind.
func recommendationID(name, recommender string, resource models.ResourceRef) string {
	if name != "" {
		if idx := strings.LastIndex(name, "/"); idx >= 0 && idx < len(name)-1 {
			return name[idx+1:]
		}
		return name
	}
	sum := sha256.Sum256([]byte(recommender + "|" + resource.Key()))
	return hex.EncodeToString(sum[:8])
}

// parseResourceName handles provider resource names such as
// "//compute.googleapis.com/projects/p/zones/us-central1-a/instances/vm-1"
func parseResourceName(name string) models.ResourceRef {
	var ref models.ResourceRef
	trimmed := strings.TrimPrefix(name, "//")
	parts := strings.Split(trimmed, "/")

	for i := 0; i < len(parts)-1; i++ {
		switch parts[i] {
		case "projects":
			ref.Project = parts[i+1]
		case "regions", "locations":
			ref.Region = parts[i+1]
		case "zones":
			ref.Zone = parts[i+1]
			ref.Region = regionOfZone(parts[i+1])
		}
	}

	if len(parts) > 0 {
		ref.Name = parts[len(parts)-1]
	}

	return ref
}

// regionOfZone trims the zone suffix: "us-central1-a" -> "us-central1"
func regionOfZone(zone string) string {
	if idx := strings.LastIndex(zone, "-"); idx > 0 {
		return zone[:idx]
	}
	return zone
}

func parsePeriod(duration string) time.Duration {
	if duration == "" {
		return 0
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return 0
	}
	return d
}

func mapState(state string) models.State {
	switch strings.ToUpper(state) {
	case "ACTIVE", "":
		return models.StateOpen
	case "CLAIMED":
		return models.StateClaimed
	case "SUCCEEDED":
		return models.StateApplied
	case "DISMISSED":
		return models.StateDismissed
	case "FAILED":
		return models.StateFailed
	}
	return models.StateOpen
}
