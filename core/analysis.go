package core

// Analysis engines
const (
	EngineRemote = "remote"
	EngineLocal  = "local"
)

// Analysis is the structured result of classifying one piece of log text,
// either by the remote analysis service or by the local rule set.
type Analysis struct {
	Severity            Severity            `json:"severity"`
	Category            string              `json:"category"`
	Summary             string              `json:"summary"`
	RootCause           string              `json:"root_cause,omitempty"`
	RecommendedActions  []string            `json:"recommended_actions"`
	RemediationPlaybook string              `json:"remediation_playbook,omitempty"`
	RemediationActions  []RemediationAction `json:"remediation_actions,omitempty"`
	PriorityScore       float64             `json:"priority_score"`
	Priority            string              `json:"priority"`
	Indicators          []Indicator         `json:"indicators,omitempty"`
	Report              *IncidentReport     `json:"report,omitempty"`
	Engine              string              `json:"engine"`
	FallbackReason      string              `json:"fallback_reason,omitempty"`
}

// ActionAwaitingApproval is the status of every planned remediation action;
// Vigil plans actions but never executes them.
const ActionAwaitingApproval = "awaiting_approval"

// RemediationAction is one step of a remediation playbook with the
// parameters it would run with and how to undo it.
type RemediationAction struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
	Rollback   string            `json:"rollback"`
	Status     string            `json:"status"`
}

// IncidentReport holds the payloads the reporter stage prepares for
// stakeholders. Nothing is sent; callers decide where each payload goes.
type IncidentReport struct {
	Title            string                 `json:"title"`
	ExecutiveSummary string                 `json:"executive_summary"`
	Slack            map[string]interface{} `json:"slack"`
	PagerDuty        map[string]interface{} `json:"pagerduty"`
	GitHubIssue      map[string]interface{} `json:"github_issue"`
}
