package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opscart/cloud-cost-orchestrator/pkg/cluster"
	"github.com/opscart/cloud-cost-orchestrator/pkg/config"
	"github.com/opscart/cloud-cost-orchestrator/pkg/executor"
	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
	"github.com/opscart/cloud-cost-orchestrator/pkg/logger"
	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/modules"
	"github.com/opscart/cloud-cost-orchestrator/pkg/orchestrator"
	"github.com/opscart/cloud-cost-orchestrator/pkg/policy"
	"github.com/opscart/cloud-cost-orchestrator/pkg/reporter"
	"github.com/opscart/cloud-cost-orchestrator/pkg/source"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
	"github.com/opscart/cloud-cost-orchestrator/pkg/telemetry"
)

var (
	// Scan flags
	domainList   []string
	regionList   []string
	project      string
	outputFormat string
	verbose      bool

	// Execute flags
	dryRun         bool
	generateReport bool
	reportFormat   string
	reportOutput   string

	// Approve flags
	actionIDs []string

	// History flags
	historyLimit int

	// Global config
	cfg   *config.Config
	store storage.Store
	log   *logger.Logger
)

func main() {
	cfg = config.NewConfig()

	var rootCmd = &cobra.Command{
		Use:   "cost-orchestrate",
		Short: "Cloud cost optimization orchestrator",
		Long:  `Scan cloud resource domains for cost optimization findings, fold them into reviewable plans, and execute approved remediations with safety checks.`,
		Run:   runScan,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// Scan flags
	rootCmd.Flags().StringSliceVarP(&domainList, "domains", "d", nil, "Domains to scan: compute, database, container, storage (default: all)")
	rootCmd.Flags().StringSliceVarP(&regionList, "regions", "r", nil, "Regions to scan, including 'global' (default: from SCAN_REGIONS)")
	rootCmd.Flags().StringVar(&project, "project", "", "Cloud project (default: from CLOUD_PROJECT)")
	rootCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")

	approveCmd := &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Approve a plan's approval-gated actions",
		Args:  cobra.ExactArgs(1),
		Run:   runApprove,
	}
	approveCmd.Flags().StringSliceVar(&actionIDs, "action", nil, "Approve only these action IDs (default: all gated actions)")

	rejectCmd := &cobra.Command{
		Use:   "reject <plan-id>",
		Short: "Reject a plan; none of its actions will execute",
		Args:  cobra.ExactArgs(1),
		Run:   runReject,
	}

	executeCmd := &cobra.Command{
		Use:   "execute <plan-id>",
		Short: "Execute a plan's approved actions",
		Args:  cobra.ExactArgs(1),
		Run:   runExecute,
	}
	executeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the composed operations without executing anything")
	executeCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
	executeCmd.Flags().BoolVar(&generateReport, "generate-report", false, "Write an execution report file")
	executeCmd.Flags().StringVar(&reportFormat, "report-format", "html", "Report format: html, csv")
	executeCmd.Flags().StringVar(&reportOutput, "report-output", "", "Output file for report")

	historyCmd := &cobra.Command{
		Use:   "history <domain>",
		Short: "View stored recommendations for a domain",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of recommendations to show")

	auditCmd := &cobra.Command{
		Use:   "audit <plan-id>",
		Short: "View a plan's audit log",
		Args:  cobra.ExactArgs(1),
		Run:   runAudit,
	}

	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger() {
	level := "info"
	if verbose {
		level = "debug"
	}
	var err error
	log, err = logger.New(logger.Options{Level: level, Pretty: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initStorage() error {
	if !cfg.StorageEnabled {
		store = storage.NewMemoryStore()
		fmt.Println("[WARN] Storage disabled: results will not survive this run")
		return nil
	}

	var err error
	store, err = storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

// buildOrchestrator wires the full stack: source, modules, policy, executor
func buildOrchestrator() (*orchestrator.Orchestrator, error) {
	if project != "" {
		cfg.Project = project
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	set := policy.Default()
	if cfg.PolicyFile != "" {
		loaded, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
		set = loaded
		fmt.Printf("[INFO] Loaded policy from %s (%d rules)\n", cfg.PolicyFile, len(set.Rules))
	}
	engine := policy.NewEngine(set)

	src := source.New(source.NewHTTPSource(""), cfg.Project, cfg.EnvironmentTags, log)
	cmdGW := gateway.NewCLIGateway(cfg.ResolverBinary)

	containerClients := modules.ContainerClients{}
	if clients, err := cluster.New(); err != nil {
		fmt.Printf("[WARN] Cluster clients unavailable: %v\n", err)
		fmt.Println("[INFO] Container verification will use the command gateway")
	} else {
		containerClients.Kube = clients.Kube
		containerClients.Metrics = clients.Metrics
	}
	if cfg.PrometheusURL != "" {
		util, err := telemetry.NewUtilizationSource(cfg.PrometheusURL)
		if err != nil {
			fmt.Printf("[WARN] Prometheus initialization failed: %v\n", err)
		} else {
			containerClients.Utilization = util
			fmt.Printf("[INFO] Using Prometheus at %s\n", cfg.PrometheusURL)
		}
	}

	mods := []modules.Module{
		modules.NewComputeModule(src, cmdGW, log),
		modules.NewDatabaseModule(src, cmdGW, log),
		modules.NewContainerModule(src, cmdGW, containerClients, log),
		modules.NewStorageModule(src, cmdGW, log),
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	exec := executor.New(mods, engine, store, m, log, cfg.Workers)

	return orchestrator.New(mods, engine, exec, store, m, log, orchestrator.Options{
		ScanTimeout: cfg.ScanTimeout,
	}), nil
}

func parseDomains() ([]models.Domain, error) {
	var domains []models.Domain
	for _, name := range domainList {
		domain, ok := models.ParseDomain(name)
		if !ok {
			return nil, fmt.Errorf("unknown domain: %s", name)
		}
		domains = append(domains, domain)
	}
	return domains, nil
}

func runScan(cmd *cobra.Command, args []string) {
	initLogger()

	if outputFormat != "text" && outputFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: output must be text or json")
		os.Exit(1)
	}

	domains, err := parseDomains()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	regions := cfg.Regions
	if len(regionList) > 0 {
		regions = regionList
	}

	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	orch, err := buildOrchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("[INFO] Cloud Cost Orchestrator - Starting scan")
	fmt.Printf("[INFO] Project: %s, regions: %s\n", cfg.Project, strings.Join(regions, ", "))

	plan, err := orch.Scan(context.Background(), domains, regions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning: %v\n", err)
		os.Exit(1)
	}

	for _, failure := range plan.ScanFailures {
		fmt.Printf("[WARN] %s/%s: %s\n", failure.Domain, failure.Region, failure.Reason)
	}

	if outputFormat == "json" {
		outputJSON(plan)
		return
	}
	outputPlanText(plan)
}

func runApprove(cmd *cobra.Command, args []string) {
	initLogger()
	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	orch, err := buildOrchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	plan, err := orch.Approve(context.Background(), args[0], actionIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	approved := 0
	for _, act := range plan.Actions {
		if act.Decision == models.EffectRequireApproval && act.Approved {
			approved++
		}
	}
	fmt.Printf("[INFO] Plan %s approved (%d gated action(s) confirmed)\n", plan.ID, approved)
}

func runReject(cmd *cobra.Command, args []string) {
	initLogger()
	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	orch, err := buildOrchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	plan, err := orch.Reject(context.Background(), args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[INFO] Plan %s rejected\n", plan.ID)
}

func runExecute(cmd *cobra.Command, args []string) {
	initLogger()
	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	orch, err := buildOrchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if dryRun {
		fmt.Println("[INFO] Dry-run mode: operations will be reported, not executed")
	}

	report, err := orch.Execute(context.Background(), args[0], dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if outputFormat == "json" {
		outputJSON(report)
	} else {
		outputReportText(report)
	}

	if generateReport {
		if err := writeReportFile(report); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] Failed to generate report: %v\n", err)
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) {
	initLogger()
	domain, ok := models.ParseDomain(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown domain: %s\n", args[0])
		os.Exit(1)
	}

	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	recs, err := store.ListRecommendations(context.Background(), domain, historyLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(recs) == 0 {
		fmt.Printf("No recommendations found for domain: %s\n", domain)
		return
	}

	fmt.Printf("Recent recommendations for domain '%s':\n\n", domain)
	for i, rec := range recs {
		fmt.Printf("%d. %s (ID: %s)\n", i+1, rec.Resource.Key(), rec.ID)
		fmt.Printf("   Kind: %s\n", rec.Kind)
		fmt.Printf("   State: %s\n", rec.State)
		fmt.Printf("   Savings: %.2f %s/mo\n", rec.Impact.Amount, rec.Impact.CurrencyCode)
		fmt.Printf("   Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
}

func runAudit(cmd *cobra.Command, args []string) {
	initLogger()
	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	planID := args[0]
	entries, err := store.AuditLog(context.Background(), planID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No audit log entries found")
		return
	}

	fmt.Printf("Audit log for plan %s:\n\n", planID)
	for i, entry := range entries {
		fmt.Printf("%d. %s\n", i+1, entry.Event)
		fmt.Printf("   At: %s\n", entry.OccurredAt.Format("2006-01-02 15:04:05"))
		if entry.ActionID != "" {
			fmt.Printf("   Action: %s\n", entry.ActionID)
		}
		if entry.Detail != "" {
			fmt.Printf("   Detail: %s\n", entry.Detail)
		}
		fmt.Println()
	}
}

func outputPlanText(plan *models.Plan) {
	if len(plan.Recommendations) == 0 {
		fmt.Println("[INFO] No optimization opportunities found")
		return
	}

	fmt.Printf("[INFO] Found %d recommendation(s)\n\n", len(plan.Recommendations))
	fmt.Println("=== Optimization Plan ===")
	fmt.Printf("Plan ID: %s\n\n", plan.ID)

	for i, rec := range plan.Recommendations {
		fmt.Printf("%d. %s", i+1, rec.Resource.Key())
		if rec.Environment != "" {
			fmt.Printf(" [%s]", strings.ToUpper(rec.Environment))
		}
		fmt.Println()

		fmt.Printf("   Kind: %s (%s)\n", rec.Kind, rec.Domain)
		if rec.Description != "" {
			fmt.Printf("   Finding: %s\n", rec.Description)
		}
		if rec.Impact.CostIncrease {
			fmt.Printf("   Cost impact: +%.2f %s/month (flagged, not counted as savings)\n",
				rec.Impact.Amount, rec.Impact.CurrencyCode)
		} else {
			fmt.Printf("   Savings: %.2f %s/month\n", rec.Impact.Amount, rec.Impact.CurrencyCode)
		}
		if act := plan.Action(rec.ID); act != nil {
			fmt.Printf("   Decision: %s", act.Decision)
			if act.Decision == models.EffectRequireApproval {
				fmt.Printf(" (approve with: cost-orchestrate approve %s --action %s)", plan.ID, act.ID)
			}
			fmt.Println()
		}
		for _, warning := range rec.Warnings {
			fmt.Printf("   Warning: %s\n", warning)
		}
		fmt.Println()
	}

	fmt.Printf("Total potential savings: %s/month\n", reporter.FormatAmounts(plan.PotentialSavings))
}

func outputReportText(report *models.ExecutionReport) {
	fmt.Println("=== Execution Report ===")
	fmt.Printf("Plan ID: %s\n", report.PlanID)
	if report.DryRun {
		fmt.Println("Mode: dry-run")
	}
	fmt.Println()

	for i, act := range report.Actions {
		fmt.Printf("%d. %s (%s)\n", i+1, act.Resource, act.Kind)
		fmt.Printf("   Result: %s\n", act.Result)
		if act.Reason != "" {
			fmt.Printf("   Reason: %s\n", act.Reason)
		}
		if act.SafetyArtifact != "" {
			fmt.Printf("   Safety artifact: %s\n", act.SafetyArtifact)
		}
		if act.ResourceNote != "" {
			fmt.Printf("   Resource state: %s\n", act.ResourceNote)
		}
		for _, op := range act.Operations {
			line := "   Operation: " + op.Verb + " " + op.Resource.Key()
			if op.Target != "" {
				line += " -> " + op.Target
			}
			if op.Safeguard {
				line += " (safeguard)"
			}
			fmt.Println(line)
		}
		fmt.Println()
	}

	fmt.Printf("Potential savings: %s/month\n", reporter.FormatAmounts(report.PotentialSavings))
	fmt.Printf("Realized savings:  %s/month\n", reporter.FormatAmounts(report.RealizedSavings))
}

func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func writeReportFile(execReport *models.ExecutionReport) error {
	rep := reporter.New(reporter.ReportFormat(reportFormat))
	report, err := rep.Generate(execReport)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	reportsDir := "reports"
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}

	outputFile := reportOutput
	if outputFile == "" {
		timestamp := time.Now().Format("20060102-150405")
		var ext string
		switch reportFormat {
		case "csv":
			ext = ".csv"
		default:
			ext = ".html"
		}
		outputFile = fmt.Sprintf("%s/execution-report-%s%s", reportsDir, timestamp, ext)
	} else if !strings.Contains(outputFile, "/") {
		outputFile = filepath.Join(reportsDir, outputFile)
	}

	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	switch reportFormat {
	case "html":
		if err := reporter.GenerateHTML(report, file); err != nil {
			return fmt.Errorf("failed to write HTML report: %w", err)
		}
	case "csv":
		if err := reporter.GenerateCSV(report, file); err != nil {
			return fmt.Errorf("failed to write CSV report: %w", err)
		}
	default:
		return fmt.Errorf("unsupported report format: %s", reportFormat)
	}

	fmt.Printf("\n[INFO] %s report generated: %s\n", strings.ToUpper(reportFormat), outputFile)
	return nil
}
