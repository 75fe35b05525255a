package reporter

import (
	"fmt"
	"html/template"
	"io"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Cost Orchestrator Report - {{.PlanID}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #333;
            padding: 20px;
            line-height: 1.6;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0, 0, 0, 0.1);
            overflow: hidden;
        }
        .header {
            background: linear-gradient(135deg, #326ce5 0%, #1a4d8f 100%);
            color: white;
            padding: 40px;
        }
        .header h1 { font-size: 2.2em; margin-bottom: 10px; }
        .header .meta { opacity: 0.85; }
        .badge {
            display: inline-block;
            padding: 2px 10px;
            border-radius: 12px;
            font-size: 0.85em;
            font-weight: 600;
        }
        .badge.dryrun { background: #ffc107; color: #333; }
        .summary {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(220px, 1fr));
            gap: 20px;
            padding: 30px 40px;
        }
        .card {
            background: #f8f9fb;
            border: 1px solid #e3e7ee;
            border-radius: 6px;
            padding: 20px;
        }
        .card .label { color: #666; font-size: 0.85em; text-transform: uppercase; }
        .card .value { font-size: 1.6em; font-weight: 700; margin-top: 4px; }
        table { width: 100%; border-collapse: collapse; margin: 0 0 30px; }
        th, td { text-align: left; padding: 10px 14px; border-bottom: 1px solid #e3e7ee; }
        th { background: #f8f9fb; font-size: 0.85em; text-transform: uppercase; color: #666; }
        .section { padding: 0 40px 30px; }
        .section h2 { margin-bottom: 14px; font-size: 1.3em; }
        .result-SUCCESS { color: #1a7f37; font-weight: 600; }
        .result-FAILED { color: #c62828; font-weight: 600; }
        .result-SKIPPED { color: #b26a00; font-weight: 600; }
        .result-DENIED { color: #6a1b9a; font-weight: 600; }
        .result-PENDING { color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Cloud Cost Orchestrator Report</h1>
            <div class="meta">
                Plan {{.PlanID}} · Generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
                {{if .DryRun}}<span class="badge dryrun">DRY RUN</span>{{end}}
            </div>
        </div>
        <div class="summary">
            <div class="card">
                <div class="label">Actions</div>
                <div class="value">{{.ActionCount}}</div>
            </div>
            <div class="card">
                <div class="label">Succeeded</div>
                <div class="value">{{.Succeeded}}</div>
            </div>
            <div class="card">
                <div class="label">Potential Savings / mo</div>
                <div class="value">{{.Potential}}</div>
            </div>
            <div class="card">
                <div class="label">Realized Savings / mo</div>
                <div class="value">{{.Realized}}</div>
            </div>
        </div>
        <div class="section">
            <h2>Actions</h2>
            <table>
                <tr>
                    <th>Resource</th><th>Kind</th><th>Result</th>
                    <th>Amount</th><th>Safety Artifact</th><th>Reason</th>
                </tr>
                {{range .Actions}}
                <tr>
                    <td>{{.Resource}}</td>
                    <td>{{.Kind}}</td>
                    <td class="result-{{.Result}}">{{.Result}}</td>
                    <td>{{printf "%.2f" .Amount}} {{.CurrencyCode}}</td>
                    <td>{{.SafetyArtifact}}</td>
                    <td>{{.Reason}}{{if .ResourceNote}} ({{.ResourceNote}}){{end}}</td>
                </tr>
                {{end}}
            </table>
        </div>
    </div>
</body>
</html>
`

// GenerateHTML creates an HTML report
func GenerateHTML(report *Report, writer io.Writer) error {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse HTML template: %w", err)
	}

	data := struct {
		*Report
		Succeeded int
		Potential string
		Realized  string
	}{
		Report:    report,
		Succeeded: report.ResultCounts[models.ResultSuccess],
		Potential: FormatAmounts(report.PotentialSavings),
		Realized:  FormatAmounts(report.RealizedSavings),
	}

	if err := tmpl.Execute(writer, data); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}
