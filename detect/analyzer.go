package detect

import (
	"context"
	"errors"
	"net"
	"strings"

	"vigil/core"
	"vigil/metrics"

	"go.uber.org/zap"
)

// Analyzer turns free log text into a structured analysis
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*core.Analysis, error)
}

// FallbackAnalyzer tries a primary analyzer and answers with the local
// rules when it fails, recording why in Analysis.FallbackReason.
type FallbackAnalyzer struct {
	primary Analyzer
	local   LocalAnalyzer
	logger  *zap.SugaredLogger
}

// NewFallbackAnalyzer creates a FallbackAnalyzer. primary may be nil.
func NewFallbackAnalyzer(primary Analyzer, logger *zap.SugaredLogger) *FallbackAnalyzer {
	return &FallbackAnalyzer{primary: primary, logger: logger}
}

// Analyze returns core.ErrEmptyLogText for blank text and otherwise always
// returns an analysis.
func (f *FallbackAnalyzer) Analyze(ctx context.Context, text string) (*core.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyLogText
	}

	var primaryErr error = core.ErrAnalyzerUnavailable
	if f.primary != nil {
		analysis, err := f.primary.Analyze(ctx, text)
		if err == nil && analysis != nil {
			metrics.AnalysisRequests.WithLabelValues(analysis.Engine).Inc()
			return analysis, nil
		}
		if err != nil {
			primaryErr = err
		}
	}

	label := FallbackLabel(primaryErr)
	metrics.AnalysisFallbacks.WithLabelValues(label).Inc()
	f.logger.Debugw("Using local analysis", "reason", label, "error", primaryErr)

	analysis, _ := f.local.Analyze(ctx, text)
	analysis.FallbackReason = primaryErr.Error()
	metrics.AnalysisRequests.WithLabelValues(analysis.Engine).Inc()
	return analysis, nil
}

// FallbackLabel buckets a primary analyzer error for metrics
func FallbackLabel(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, core.ErrAnalyzerUnavailable):
		return "not_configured"
	case errors.Is(err, core.ErrCircuitBreakerOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrRemoteStatus):
		return "bad_status"
	case errors.Is(err, ErrInvalidAnalysis):
		return "invalid_response"
	default:
		return "network"
	}
}
