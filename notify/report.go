package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"vigil/config"
	"vigil/core"
)

var labelCleaner = regexp.MustCompile(`[^a-z0-9]+`)

var severityColor = map[core.Severity]string{
	core.SeverityMalicious: "#d32f2f",
	core.SeverityHigh:      "#f44336",
	core.SeverityMedium:    "#ff9800",
	core.SeverityInfo:      "#2196f3",
}

var pagerDutySeverity = map[core.Severity]string{
	core.SeverityMalicious: "critical",
	core.SeverityHigh:      "error",
	core.SeverityMedium:    "warning",
}

// Reporter renders stakeholder payloads for an analyzed alert. It builds
// them only; delivery belongs to whatever consumes the report.
type Reporter struct {
	cfg config.ReportConfig
	now func() time.Time
}

// NewReporter creates a reporter. An empty Slack channel falls back to
// #security-incidents.
func NewReporter(cfg config.ReportConfig) *Reporter {
	if cfg.SlackChannel == "" {
		cfg.SlackChannel = "#security-incidents"
	}
	return &Reporter{cfg: cfg, now: time.Now}
}

// Build assembles the incident report for alert and its analysis.
func (r *Reporter) Build(alert *core.Alert, analysis *core.Analysis) *core.IncidentReport {
	if alert == nil || analysis == nil {
		return nil
	}

	title := strings.TrimSpace(analysis.Summary)
	if title == "" {
		title = analysis.Category + " incident"
	}
	title = core.Truncate(title, 120)

	detected := alert.EventTime()
	if detected.IsZero() {
		detected = r.now()
	}

	return &core.IncidentReport{
		Title:            title,
		ExecutiveSummary: r.executiveSummary(title, alert, analysis, detected),
		Slack:            r.slackPayload(title, alert, analysis),
		PagerDuty:        r.pagerDutyPayload(title, alert, analysis, detected),
		GitHubIssue:      r.githubIssue(title, alert, analysis, detected),
	}
}

func (r *Reporter) executiveSummary(title string, alert *core.Alert, analysis *core.Analysis, detected time.Time) string {
	rootCause := analysis.RootCause
	if rootCause == "" {
		rootCause = "The root cause has not been determined yet."
	}

	response := "No automated response is planned; an analyst should review the alert."
	if len(analysis.RemediationActions) > 0 {
		response = fmt.Sprintf("%d remediation action(s) from the %s playbook are awaiting approval. Nothing has been executed.",
			len(analysis.RemediationActions), analysis.RemediationPlaybook)
	}

	return strings.Join([]string{
		fmt.Sprintf("At %s Vigil detected a %s severity %s incident: %s",
			detected.UTC().Format(time.RFC1123), alert.Severity, analysis.Category, title),
		fmt.Sprintf("Affected assets: %s. %s", impactedAssets(analysis), rootCause),
		fmt.Sprintf("Priority %s (score %.0f). %s", analysis.Priority, analysis.PriorityScore, response),
	}, "\n\n")
}

func (r *Reporter) slackPayload(title string, alert *core.Alert, analysis *core.Analysis) map[string]interface{} {
	color := severityColor[alert.Severity]
	if color == "" {
		color = "#757575"
	}

	attachment := map[string]interface{}{
		"color": color,
		"title": title,
		"fields": []map[string]interface{}{
			{
				"title": "Severity",
				"value": string(alert.Severity),
				"short": true,
			},
			{
				"title": "Category",
				"value": analysis.Category,
				"short": true,
			},
			{
				"title": "Impacted Assets",
				"value": impactedAssets(analysis),
				"short": false,
			},
		},
		"footer": "Vigil",
		"ts":     r.now().Unix(),
	}

	if r.cfg.ConsoleURL != "" && len(analysis.RemediationActions) > 0 {
		base := strings.TrimRight(r.cfg.ConsoleURL, "/") + "/alerts/" + alert.ID
		attachment["actions"] = []map[string]interface{}{
			{"type": "button", "text": "Approve remediation", "url": base + "/approve", "style": "primary"},
			{"type": "button", "text": "Reject", "url": base + "/reject", "style": "danger"},
		}
	}

	return map[string]interface{}{
		"channel":     r.cfg.SlackChannel,
		"text":        fmt.Sprintf("*%s Severity Alert*: %s", alert.Severity, title),
		"attachments": []map[string]interface{}{attachment},
	}
}

func (r *Reporter) pagerDutyPayload(title string, alert *core.Alert, analysis *core.Analysis, detected time.Time) map[string]interface{} {
	severity := pagerDutySeverity[alert.Severity]
	if severity == "" {
		severity = "info"
	}

	source := alert.SourceLogName
	if source == "" {
		source = "vigil"
	}

	return map[string]interface{}{
		"routing_key":  r.cfg.PagerDutyRoutingKey,
		"event_action": "trigger",
		"dedup_key":    alert.ID,
		"payload": map[string]interface{}{
			"summary":   title,
			"severity":  severity,
			"source":    source,
			"timestamp": detected.UTC().Format(time.RFC3339),
			"component": impactedAssets(analysis),
			"group":     analysis.Category,
			"class":     analysis.RemediationPlaybook,
			"custom_details": map[string]interface{}{
				"incident_id":    alert.ID,
				"priority":       analysis.Priority,
				"priority_score": analysis.PriorityScore,
				"playbook":       analysis.RemediationPlaybook,
			},
		},
	}
}

func (r *Reporter) githubIssue(title string, alert *core.Alert, analysis *core.Analysis, detected time.Time) map[string]interface{} {
	var body strings.Builder
	fmt.Fprintf(&body, "## Summary\n\n%s\n\n", title)
	fmt.Fprintf(&body, "- **Alert ID:** `%s`\n", alert.ID)
	fmt.Fprintf(&body, "- **Detected:** %s\n", detected.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "- **Severity:** %s\n", alert.Severity)
	fmt.Fprintf(&body, "- **Priority:** %s (%.0f)\n", analysis.Priority, analysis.PriorityScore)
	fmt.Fprintf(&body, "- **Impacted assets:** %s\n", impactedAssets(analysis))

	if analysis.RootCause != "" {
		fmt.Fprintf(&body, "\n## Root cause\n\n%s\n", analysis.RootCause)
	}

	if len(analysis.RecommendedActions) > 0 {
		body.WriteString("\n## Recommended actions\n\n")
		for _, a := range analysis.RecommendedActions {
			fmt.Fprintf(&body, "- [ ] %s\n", a)
		}
	}

	if len(analysis.RemediationActions) > 0 {
		fmt.Fprintf(&body, "\n## Planned remediation (%s)\n\n", analysis.RemediationPlaybook)
		for _, a := range analysis.RemediationActions {
			fmt.Fprintf(&body, "- %s (`%s`), rollback: %s\n", a.Name, a.Type, a.Rollback)
		}
	}

	labels := []string{"security", "severity-" + label(string(alert.Severity))}
	if c := label(analysis.Category); c != "" {
		labels = append(labels, c)
	}

	return map[string]interface{}{
		"repository": r.cfg.GitHubRepo,
		"title":      fmt.Sprintf("[Security][%s] %s", alert.Severity, title),
		"body":       body.String(),
		"labels":     labels,
	}
}

// impactedAssets lists the instances the remediation plan targets
func impactedAssets(analysis *core.Analysis) string {
	var assets []string
	for _, a := range analysis.RemediationActions {
		if vm := a.Parameters["vm_id"]; vm != "" {
			assets = append(assets, vm)
		}
	}
	if len(assets) == 0 {
		return "n/a"
	}
	return strings.Join(assets, ", ")
}

func label(s string) string {
	return strings.Trim(labelCleaner.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
