package notify

import (
	"strings"
	"testing"
	"time"

	"vigil/config"
	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReporter(cfg config.ReportConfig) *Reporter {
	r := NewReporter(cfg)
	r.now = func() time.Time { return time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC) }
	return r
}

func sampleIncident() (*core.Alert, *core.Analysis) {
	alert := &core.Alert{
		ID:            "alert-7",
		Time:          "2024-06-01T12:00:00Z",
		Category:      "Unauthorized Access",
		Severity:      core.SeverityMalicious,
		SourceLogName: "projects/p/logs/syslog",
	}
	analysis := &core.Analysis{
		Severity:            core.SeverityHigh,
		Category:            "Unauthorized Access",
		Summary:             "SSH brute force against web-1",
		RootCause:           "Password authentication left enabled.",
		RecommendedActions:  []string{"Disable password auth"},
		RemediationPlaybook: "block_ip_then_snapshot",
		RemediationActions: []core.RemediationAction{
			{Name: "Block IP at firewall", Type: "block_ip", Parameters: map[string]string{"ip": "1.2.3.4"}, Rollback: "Remove the firewall rule blocking 1.2.3.4", Status: core.ActionAwaitingApproval},
			{Name: "Snapshot affected instance", Type: "snapshot_vm", Parameters: map[string]string{"vm_id": "web-1"}, Rollback: "Delete the snapshot taken of web-1", Status: core.ActionAwaitingApproval},
		},
		Priority:      "P1",
		PriorityScore: 92,
	}
	return alert, analysis
}

func TestReporterExecutiveSummary(t *testing.T) {
	alert, analysis := sampleIncident()
	report := newTestReporter(config.ReportConfig{}).Build(alert, analysis)
	require.NotNil(t, report)

	assert.Equal(t, "SSH brute force against web-1", report.Title)
	paragraphs := strings.Split(report.ExecutiveSummary, "\n\n")
	require.Len(t, paragraphs, 3)
	assert.Contains(t, paragraphs[0], "Sat, 01 Jun 2024 12:00:00 UTC")
	assert.Contains(t, paragraphs[0], "HIGH (malicious)")
	assert.Contains(t, paragraphs[1], "web-1")
	assert.Contains(t, paragraphs[1], "Password authentication left enabled.")
	assert.Contains(t, paragraphs[2], "2 remediation action(s)")
	assert.Contains(t, paragraphs[2], "Nothing has been executed")
}

func TestReporterSlackPayload(t *testing.T) {
	alert, analysis := sampleIncident()

	report := newTestReporter(config.ReportConfig{}).Build(alert, analysis)
	assert.Equal(t, "#security-incidents", report.Slack["channel"])
	attachments := report.Slack["attachments"].([]map[string]interface{})
	require.Len(t, attachments, 1)
	assert.Equal(t, "#d32f2f", attachments[0]["color"])
	assert.Equal(t, "Vigil", attachments[0]["footer"])
	assert.NotContains(t, attachments[0], "actions")

	report = newTestReporter(config.ReportConfig{SlackChannel: "#soc", ConsoleURL: "https://vigil.example.com/"}).Build(alert, analysis)
	assert.Equal(t, "#soc", report.Slack["channel"])
	actions := report.Slack["attachments"].([]map[string]interface{})[0]["actions"].([]map[string]interface{})
	require.Len(t, actions, 2)
	assert.Equal(t, "https://vigil.example.com/alerts/alert-7/approve", actions[0]["url"])
}

func TestReporterPagerDutySeverity(t *testing.T) {
	tests := []struct {
		severity core.Severity
		want     string
	}{
		{core.SeverityMalicious, "critical"},
		{core.SeverityHigh, "error"},
		{core.SeverityMedium, "warning"},
		{core.SeverityInfo, "info"},
	}

	r := newTestReporter(config.ReportConfig{PagerDutyRoutingKey: "rk"})
	for _, tt := range tests {
		alert, analysis := sampleIncident()
		alert.Severity = tt.severity
		pd := r.Build(alert, analysis).PagerDuty

		assert.Equal(t, "rk", pd["routing_key"])
		assert.Equal(t, "trigger", pd["event_action"])
		payload := pd["payload"].(map[string]interface{})
		assert.Equal(t, tt.want, payload["severity"], string(tt.severity))
		assert.Equal(t, "web-1", payload["component"])
	}
}

func TestReporterGitHubIssue(t *testing.T) {
	alert, analysis := sampleIncident()
	issue := newTestReporter(config.ReportConfig{GitHubRepo: "acme/security"}).Build(alert, analysis).GitHubIssue

	assert.Equal(t, "acme/security", issue["repository"])
	assert.Equal(t, "[Security][HIGH (malicious)] SSH brute force against web-1", issue["title"])
	assert.Equal(t, []string{"security", "severity-high-malicious", "unauthorized-access"}, issue["labels"])
	body := issue["body"].(string)
	assert.Contains(t, body, "- [ ] Disable password auth")
	assert.Contains(t, body, "rollback: Delete the snapshot taken of web-1")
}

func TestReporterFallbacks(t *testing.T) {
	r := newTestReporter(config.ReportConfig{})
	assert.Nil(t, r.Build(nil, &core.Analysis{}))

	alert := &core.Alert{ID: "a-1", Severity: core.SeverityInfo}
	report := r.Build(alert, &core.Analysis{Category: "Info"})
	require.NotNil(t, report)
	assert.Equal(t, "Info incident", report.Title)
	assert.Contains(t, report.ExecutiveSummary, "Sat, 01 Jun 2024 13:00:00 UTC")
	assert.Contains(t, report.ExecutiveSummary, "Affected assets: n/a")
	assert.Contains(t, report.ExecutiveSummary, "No automated response is planned")
}
