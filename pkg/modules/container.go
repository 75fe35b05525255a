package modules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
	"github.com/opscart/cloud-cost-orchestrator/pkg/telemetry"
)

// idleCPUMillicores is the usage ceiling below which a workload still
// counts as idle at verification time
const idleCPUMillicores = 5

// ContainerClients are the optional live-state clients the container module
// uses for verification. When none are configured, verification falls back
// to the command gateway's describe operation.
type ContainerClients struct {
	Kube        kubernetes.Interface
	Metrics     metricsv.Interface
	Utilization *telemetry.UtilizationSource
}

// ContainerModule handles cluster workloads and node pools: replica
// rightsizing and idle node pool scale-down.
type ContainerModule struct {
	base
	clients ContainerClients
}

// NewContainerModule wires the container module
func NewContainerModule(recs *source.Gateway, cmd gateway.CommandGateway, clients ContainerClients, log *logger.Logger) *ContainerModule {
	return &ContainerModule{
		base:    newBase(models.DomainContainer, recs, cmd, log),
		clients: clients,
	}
}

// Scan delegates to the recommendation gateway and attaches workload detail
func (m *ContainerModule) Scan(ctx context.Context, region string) ([]*models.Recommendation, error) {
	recs, err := m.recs.Scan(ctx, m.domain, region)

	for _, rec := range recs {
		detail := &models.ContainerDetail{}
		if raw := parseRaw(rec); raw != nil {
			detail.Cluster = raw.OverviewString("cluster")
			detail.Namespace = raw.OverviewString("namespace")
			detail.Workload = raw.OverviewString("workload")
			detail.CurrentReplicas = overviewInt32(raw, "currentReplicas")
			detail.RecommendedReplicas = overviewInt32(raw, "recommendedReplicas")
		}
		rec.Container = detail
	}

	return recs, err
}

func overviewInt32(raw *source.RawRecommendation, key string) int32 {
	switch v := raw.Content.Overview[key].(type) {
	case float64:
		return int32(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			return int32(n)
		}
	}
	return 0
}

// VerifySafe re-checks the workload's live state. A replica count that
// drifted since scan, or usage that is no longer idle, blocks the action.
func (m *ContainerModule) VerifySafe(ctx context.Context, rec *models.Recommendation) error {
	detail := rec.Container
	if detail == nil || detail.Workload == "" {
		return m.verifyViaGateway(ctx, rec)
	}

	if m.clients.Kube != nil {
		deploy, err := m.clients.Kube.AppsV1().Deployments(detail.Namespace).Get(ctx, detail.Workload, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("failed to get workload %s/%s: %w", detail.Namespace, detail.Workload, err)
		}
		if deploy.Spec.Replicas != nil && *deploy.Spec.Replicas != detail.CurrentReplicas {
			return Unsafe(fmt.Sprintf("replica count changed since scan: %d", *deploy.Spec.Replicas))
		}
	}

	// Scale-to-zero needs a fresh idleness check; a workload that picked
	// up traffic since the scan stays untouched.
	if detail.RecommendedReplicas == 0 {
		usage, err := m.workloadCPUMillicores(ctx, detail)
		if err != nil {
			m.log.Warn(fmt.Sprintf("usage check unavailable for %s/%s: %v", detail.Namespace, detail.Workload, err))
		} else if usage > idleCPUMillicores {
			return Unsafe(fmt.Sprintf("workload no longer idle: %dm CPU in use", usage))
		}
	}

	return nil
}

func (m *ContainerModule) verifyViaGateway(ctx context.Context, rec *models.Recommendation) error {
	status, err := m.describe(ctx, rec.Resource)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rec.Resource.Key(), err)
	}
	if len(status.Users) > 0 {
		return Unsafe("node pool has scheduled workloads")
	}
	return nil
}

// workloadCPUMillicores sums current CPU usage across the workload's pods,
// preferring the cluster metrics API and falling back to Prometheus.
func (m *ContainerModule) workloadCPUMillicores(ctx context.Context, detail *models.ContainerDetail) (int64, error) {
	if m.clients.Metrics != nil {
		podMetrics, err := m.clients.Metrics.MetricsV1beta1().PodMetricses(detail.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return 0, fmt.Errorf("failed to list pod metrics: %w", err)
		}

		var total int64
		for _, pod := range podMetrics.Items {
			if !strings.HasPrefix(pod.Name, detail.Workload+"-") {
				continue
			}
			for _, container := range pod.Containers {
				total += container.Usage.Cpu().MilliValue()
			}
		}
		return total, nil
	}

	if m.clients.Utilization != nil {
		cores, err := m.clients.Utilization.WorkloadCPUCores(ctx, detail.Namespace, detail.Workload, 10*time.Minute)
		if err != nil {
			return 0, err
		}
		return int64(cores * 1000), nil
	}

	return 0, fmt.Errorf("no usage source configured")
}

// Operations composes a single scale operation to the recommended size
func (m *ContainerModule) Operations(rec *models.Recommendation) []models.OperationSpec {
	target := "0"
	if rec.Container != nil && rec.Kind == models.KindRightsizing {
		target = strconv.FormatInt(int64(rec.Container.RecommendedReplicas), 10)
	}
	return []models.OperationSpec{
		{Verb: models.OpScale, Resource: rec.Resource, Target: target},
	}
}

// Safeguard is a no-op: container remediations are reversible scale changes
// and produce no artifact
func (m *ContainerModule) Safeguard(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runSafeguard(ctx, act, m.Operations(rec))
}

// Remediate executes the scale operation
func (m *ContainerModule) Remediate(ctx context.Context, rec *models.Recommendation, act *models.Action) error {
	return m.runRemediation(ctx, act, m.Operations(rec), nil)
}
