package detect

import (
	"math"
	"strings"

	"vigil/core"
)

// Priority labels
const (
	PriorityP1 = "P1"
	PriorityP2 = "P2"
	PriorityP3 = "P3"
)

// Remediation playbooks
const (
	PlaybookBlockIP             = "block_ip"
	PlaybookBlockIPThenSnapshot = "block_ip_then_snapshot"
)

// Score weights; they sum to 100.
const (
	confidenceWeight  = 60
	criticalityWeight = 30
	intelWeight       = 10
)

var severityConfidence = map[core.Severity]float64{
	core.SeverityMalicious: 1.0,
	core.SeverityHigh:      0.9,
	core.SeverityMedium:    0.6,
	core.SeverityInfo:      0.3,
}

var instanceMarkers = []string{"compute.instances", "gce_instance", "/instances/"}

// PriorityScore combines severity confidence, category criticality and
// indicator intel into a 0-100 score and its label.
func PriorityScore(severity core.Severity, category string, indicators []core.Indicator) (float64, string) {
	confidence, ok := severityConfidence[severity]
	if !ok {
		confidence = 0.5
	}

	criticality := 0.5
	lower := strings.ToLower(category)
	if strings.Contains(lower, "iam") || strings.Contains(lower, "auth") {
		criticality = 1.0
	}

	intel := 0.0
	for _, ind := range indicators {
		if ind.Malicious {
			intel = 1.0
			break
		}
	}

	score := confidence*confidenceWeight + criticality*criticalityWeight + intel*intelWeight
	score = math.Round(math.Min(math.Max(score, 0), 100)*100) / 100

	switch {
	case score >= 80:
		return score, PriorityP1
	case score >= 50:
		return score, PriorityP2
	default:
		return score, PriorityP3
	}
}

// SuggestPlaybook picks a remediation playbook, or "" when none applies.
// A malicious IP gets blocked; if the text also names a compute instance
// the instance is snapshotted afterwards.
func SuggestPlaybook(text string, indicators []core.Indicator) string {
	maliciousIP := false
	for _, ind := range indicators {
		if ind.Type == IndicatorIP && ind.Malicious {
			maliciousIP = true
			break
		}
	}
	if !maliciousIP {
		return ""
	}
	if containsAny(strings.ToLower(text), instanceMarkers) {
		return PlaybookBlockIPThenSnapshot
	}
	return PlaybookBlockIP
}

// Triage fills indicators, priority and remediation on an analysis of text.
// A playbook already chosen by the analyzer is kept; otherwise one is
// suggested from the indicators.
func Triage(analysis *core.Analysis, text string) {
	if analysis == nil {
		return
	}
	analysis.Indicators = ExtractIndicators(text)
	analysis.PriorityScore, analysis.Priority = PriorityScore(analysis.Severity, analysis.Category, analysis.Indicators)
	if analysis.RemediationPlaybook == "" {
		analysis.RemediationPlaybook = SuggestPlaybook(text, analysis.Indicators)
	}
	analysis.RemediationActions = BuildActions(analysis.RemediationPlaybook, text, analysis.Indicators)
}
