package detect

import (
	"context"
	"strings"

	"vigil/core"
)

type localBucket struct {
	keywords []string
	severity core.Severity
	category string
	cause    string
	actions  []string
}

// Checked in order; the first bucket with a matching keyword wins.
var localBuckets = []localBucket{
	{
		keywords: []string{"error", "exception", "fatal", "panic", "traceback"},
		severity: core.SeverityHigh,
		category: "Application Error",
		cause:    "The application reported an unhandled error or crash.",
		actions: []string{
			"Inspect the stack trace and recent deployments for the failing service.",
			"Check error rates for the service and roll back if they spiked after a release.",
		},
	},
	{
		keywords: []string{"unauthorized", "forbidden", "denied", "authentication failed", "invalid credentials", "login failed"},
		severity: core.SeverityHigh,
		category: "Auth/Access",
		cause:    "A request was rejected by an authentication or authorization check.",
		actions: []string{
			"Review the principal and source address of the rejected request.",
			"Look for repeated failures from the same source that indicate credential guessing.",
			"Confirm IAM bindings for the affected resource are intended.",
		},
	},
	{
		keywords: []string{"warning", "warn", "deprecated"},
		severity: core.SeverityMedium,
		category: "Warning",
		cause:    "The component logged a warning condition.",
		actions: []string{
			"Track whether the warning recurs and schedule a fix before it escalates.",
		},
	},
	{
		keywords: []string{"timeout", "connection refused", "unreachable", "dns", "network"},
		severity: core.SeverityMedium,
		category: "Network",
		cause:    "A network dependency was slow or unreachable.",
		actions: []string{
			"Check health of the upstream dependency and recent firewall or DNS changes.",
			"Verify connection pool and timeout settings for the caller.",
		},
	},
}

var generalBucket = localBucket{
	severity: core.SeverityMedium,
	category: "General",
	cause:    "No specific pattern was recognized in the log text.",
	actions: []string{
		"Review the log entry in context and tune alerting if it is noise.",
	},
}

// BasicLocalAnalyze classifies text with a fixed keyword table. It never
// fails and is deterministic.
func BasicLocalAnalyze(text string) *core.Analysis {
	lower := strings.ToLower(text)

	bucket := generalBucket
	for _, b := range localBuckets {
		if containsAny(lower, b.keywords) {
			bucket = b
			break
		}
	}

	summary := strings.TrimSpace(text)
	if summary == "" {
		summary = bucket.category
	}

	return &core.Analysis{
		Severity:           bucket.severity,
		Category:           bucket.category,
		Summary:            core.Truncate(summary, core.MaxSummaryLength),
		RootCause:          bucket.cause,
		RecommendedActions: append([]string(nil), bucket.actions...),
		Engine:             core.EngineLocal,
	}
}

// LocalAnalyzer wraps BasicLocalAnalyze as an Analyzer
type LocalAnalyzer struct{}

// Analyze never returns an error
func (LocalAnalyzer) Analyze(_ context.Context, text string) (*core.Analysis, error) {
	return BasicLocalAnalyze(text), nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
