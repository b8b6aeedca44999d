package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscalateMaliciousIsIdempotent(t *testing.T) {
	for _, start := range []Severity{SeverityInfo, SeverityMedium, SeverityHigh, SeverityMalicious} {
		once := &Alert{Severity: start}
		EscalateMalicious(once, "first")

		twice := &Alert{Severity: start}
		EscalateMalicious(twice, "first")
		EscalateMalicious(twice, "second")

		assert.Equal(t, once.Severity, twice.Severity, "start=%s", start)
		assert.True(t, twice.Severity.IsMalicious())
		assert.Equal(t, "first", twice.Reason)
	}
}

func TestEscalateNeverLowers(t *testing.T) {
	a := &Alert{Severity: SeverityHigh}
	Escalate(a, SeverityMedium)
	assert.Equal(t, SeverityHigh, a.Severity)

	Escalate(a, SeverityMalicious)
	assert.Equal(t, SeverityMalicious, a.Severity)

	Escalate(a, SeverityInfo)
	assert.Equal(t, SeverityMalicious, a.Severity)
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"DEFAULT":   SeverityInfo,
		"debug":     SeverityInfo,
		"NOTICE":    SeverityInfo,
		"WARNING":   SeverityMedium,
		"ERROR":     SeverityHigh,
		"emergency": SeverityHigh,
		"":          SeverityInfo,
		"bogus":     SeverityInfo,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseSeverity(raw), raw)
	}
}

func TestTruncateIsRuneSafe(t *testing.T) {
	s := strings.Repeat("é", 400)
	out := Truncate(s, MaxSummaryLength)
	assert.Equal(t, MaxSummaryLength, len([]rune(out)))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestStageIDValid(t *testing.T) {
	assert.Len(t, Stages, 7)
	assert.True(t, StageTriage.Valid())
	assert.False(t, StageID("janitor").Valid())
}
