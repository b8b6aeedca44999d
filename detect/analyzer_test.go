package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAnalyzer struct {
	analysis *core.Analysis
	err      error
	calls    int
}

func (s *stubAnalyzer) Analyze(context.Context, string) (*core.Analysis, error) {
	s.calls++
	return s.analysis, s.err
}

func TestFallbackAnalyzerUsesPrimary(t *testing.T) {
	primary := &stubAnalyzer{analysis: &core.Analysis{Severity: core.SeverityHigh, Category: "IAM", Engine: core.EngineRemote}}
	f := NewFallbackAnalyzer(primary, zap.NewNop().Sugar())

	a, err := f.Analyze(context.Background(), "SetIamPolicy by unknown principal")
	require.NoError(t, err)
	assert.Equal(t, core.EngineRemote, a.Engine)
	assert.Empty(t, a.FallbackReason)
}

func TestFallbackAnalyzerFallsBack(t *testing.T) {
	primary := &stubAnalyzer{err: fmt.Errorf("%w: 503", ErrRemoteStatus)}
	f := NewFallbackAnalyzer(primary, zap.NewNop().Sugar())

	a, err := f.Analyze(context.Background(), "ERROR: Unauthorized access attempt")
	require.NoError(t, err)
	assert.Equal(t, core.EngineLocal, a.Engine)
	assert.Equal(t, core.SeverityHigh, a.Severity)
	assert.Equal(t, "Application Error", a.Category)
	assert.Contains(t, a.FallbackReason, "503")
}

func TestFallbackAnalyzerWithoutPrimary(t *testing.T) {
	f := NewFallbackAnalyzer(nil, zap.NewNop().Sugar())
	a, err := f.Analyze(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, core.ErrAnalyzerUnavailable.Error(), a.FallbackReason)
}

func TestFallbackAnalyzerRejectsEmpty(t *testing.T) {
	primary := &stubAnalyzer{}
	f := NewFallbackAnalyzer(primary, zap.NewNop().Sugar())

	_, err := f.Analyze(context.Background(), "  \n ")
	assert.ErrorIs(t, err, core.ErrEmptyLogText)
	assert.Zero(t, primary.calls)
}

func TestFallbackLabel(t *testing.T) {
	assert.Equal(t, "none", FallbackLabel(nil))
	assert.Equal(t, "not_configured", FallbackLabel(core.ErrAnalyzerUnavailable))
	assert.Equal(t, "circuit_open", FallbackLabel(core.ErrCircuitBreakerOpen))
	assert.Equal(t, "timeout", FallbackLabel(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, "bad_status", FallbackLabel(fmt.Errorf("%w: 500", ErrRemoteStatus)))
	assert.Equal(t, "invalid_response", FallbackLabel(ErrInvalidAnalysis))
	assert.Equal(t, "network", FallbackLabel(errors.New("connection refused")))
}
