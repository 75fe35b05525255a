// Package telemetry provides a Prometheus-backed utilization source used as
// a live second opinion during pre-remediation safety checks.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// UtilizationSource queries a Prometheus server for workload usage
type UtilizationSource struct {
	client v1.API
	url    string
}

// NewUtilizationSource creates a source for the given Prometheus URL
func NewUtilizationSource(url string) (*UtilizationSource, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &UtilizationSource{
		client: v1.NewAPI(client),
		url:    url,
	}, nil
}

// IsAvailable reports whether the server answers queries
func (s *UtilizationSource) IsAvailable(ctx context.Context) bool {
	_, _, err := s.client.Query(ctx, "up", time.Now())
	return err == nil
}

// WorkloadCPUCores returns the summed CPU usage (in cores) of a workload's
// pods averaged over the window. A zero result with no error means the
// workload genuinely shows no usage.
func (s *UtilizationSource) WorkloadCPUCores(ctx context.Context, namespace, workload string, window time.Duration) (float64, error) {
	query := fmt.Sprintf(
		`sum(rate(container_cpu_usage_seconds_total{namespace=%q,pod=~"%s-.*"}[%s]))`,
		namespace, workload, model.Duration(window).String(),
	)
	return s.querySingle(ctx, query)
}

func (s *UtilizationSource) querySingle(ctx context.Context, query string) (float64, error) {
	result, warnings, err := s.client.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}

	if len(warnings) > 0 {
		return 0, fmt.Errorf("query returned warnings: %v", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return 0, fmt.Errorf("unexpected result type %T", result)
	}

	sum := 0.0
	for _, sample := range vector {
		sum += float64(sample.Value)
	}

	return sum, nil
}

// Name identifies the source in logs
func (s *UtilizationSource) Name() string {
	return "prometheus"
}
