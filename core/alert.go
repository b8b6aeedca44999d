package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Severity is the ordered alert severity. Values compare by Rank, never by string.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityMalicious Severity = "HIGH (malicious)"
)

// MaxSummaryLength bounds Alert.Summary in runes.
const MaxSummaryLength = 300

// Alert source labels
const (
	SourcePubSub  = "pubsub"
	SourcePoll    = "poll"
	SourceAnalyze = "analyze"
)

// Rank returns the position of s in the severity order. Unknown values rank as INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityMalicious:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// IsMalicious reports whether the severity carries the malicious marker.
func (s Severity) IsMalicious() bool {
	return strings.Contains(strings.ToLower(string(s)), "malicious")
}

// ParseSeverity maps a free-form severity string (including Cloud Logging
// LogSeverity names) onto the alert severity scale.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "WARNING", "WARN", "MEDIUM":
		return SeverityMedium
	case "ERROR", "CRITICAL", "ALERT", "EMERGENCY", "HIGH":
		return SeverityHigh
	case "HIGH (MALICIOUS)":
		return SeverityMalicious
	default:
		return SeverityInfo
	}
}

// Indicator is an IP address or domain extracted from an alert with its
// reputation lookup result.
type Indicator struct {
	Type       string `json:"type" bson:"type"`
	Value      string `json:"value" bson:"value"`
	AbuseScore int    `json:"abuse_score" bson:"abuse_score"`
	Malicious  bool   `json:"is_malicious" bson:"is_malicious"`
}

// Alert is the canonical normalized record of one log event.
// Alerts are treated as immutable once broadcast; the only mutation is
// severity escalation which happens before the alert leaves the pipeline.
type Alert struct {
	ID            string      `json:"id" bson:"alert_id"`
	Time          string      `json:"time" bson:"time"`
	Category      string      `json:"category" bson:"category"`
	Severity      Severity    `json:"severity" bson:"severity"`
	Summary       string      `json:"summary" bson:"summary"`
	Log           string      `json:"log" bson:"log"`
	SourceLogName string      `json:"sourceLogName" bson:"source_log_name"`
	Source        string      `json:"source" bson:"source"`
	Malicious     bool        `json:"malicious" bson:"malicious"`
	Reason        string      `json:"reason,omitempty" bson:"reason,omitempty"`
	Indicators    []Indicator `json:"indicators,omitempty" bson:"indicators,omitempty"`
}

// EventTime parses Alert.Time. The zero time is returned if it does not parse.
func (a *Alert) EventTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, a.Time)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EscalateMalicious upgrades the alert to the malicious severity. It is
// idempotent and never lowers severity.
func EscalateMalicious(a *Alert, reason string) {
	if a == nil {
		return
	}
	a.Malicious = true
	if a.Reason == "" {
		a.Reason = reason
	}
	if a.Severity.IsMalicious() {
		return
	}
	a.Severity = SeverityMalicious
}

// Escalate raises the alert severity to s if s ranks higher. It never lowers it.
func Escalate(a *Alert, s Severity) {
	if a == nil || s.Rank() <= a.Severity.Rank() {
		return
	}
	a.Severity = s
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// FormatTime renders t the way Alert.Time is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
