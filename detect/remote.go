package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/metrics"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// maxResponseBytes caps how much of a remote response is read
const maxResponseBytes = 1 << 20

var (
	// ErrRemoteStatus is returned for non-2xx responses
	ErrRemoteStatus = errors.New("analysis service returned an error status")
	// ErrInvalidAnalysis is returned when the response fails schema validation
	ErrInvalidAnalysis = errors.New("analysis service returned an invalid body")
)

const analysisResponseSchema = `{
	"type": "object",
	"required": ["severity", "category", "summary"],
	"properties": {
		"severity": {"type": "string", "minLength": 1},
		"category": {"type": "string", "minLength": 1},
		"summary": {"type": "string"},
		"root_cause": {"type": "string"},
		"recommended_actions": {"type": "array", "items": {"type": "string"}},
		"remediation": {"type": "array", "items": {"type": "string"}},
		"remediation_playbook": {"type": "string"}
	}
}`

var analysisSchema = gojsonschema.NewStringLoader(analysisResponseSchema)

type remoteRequest struct {
	LogText string `json:"logText"`
}

type remoteResponse struct {
	Severity           string   `json:"severity"`
	Category           string   `json:"category"`
	Summary            string   `json:"summary"`
	RootCause          string   `json:"root_cause"`
	RecommendedActions []string `json:"recommended_actions"`
	Remediation        []string `json:"remediation"`
	Playbook           string   `json:"remediation_playbook"`
}

// RemoteAnalyzer posts log text to the analysis service. It makes one
// attempt per call and trips a circuit breaker after repeated failures.
type RemoteAnalyzer struct {
	url     string
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewRemoteAnalyzer creates a RemoteAnalyzer. An empty URL is allowed;
// every call then fails with core.ErrAnalyzerUnavailable.
func NewRemoteAnalyzer(cfg config.AnalysisConfig, logger *zap.SugaredLogger) (*RemoteAnalyzer, error) {
	breaker, err := core.NewCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures: cfg.MaxFailures,
		Cooldown:    cfg.Cooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis circuit breaker: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteAnalyzer{
		url:     strings.TrimSpace(cfg.URL),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Analyze calls the service once
func (r *RemoteAnalyzer) Analyze(ctx context.Context, text string) (*core.Analysis, error) {
	if r.url == "" {
		return nil, core.ErrAnalyzerUnavailable
	}
	if err := r.breaker.Allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	analysis, err := r.call(ctx, text)
	metrics.RemoteAnalysisDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		state := r.breaker.RecordFailure()
		r.logger.Warnw("Remote analysis failed",
			"error", err,
			"breaker_state", string(state))
		return nil, err
	}
	r.breaker.RecordSuccess()
	return analysis, nil
}

func (r *RemoteAnalyzer) call(ctx context.Context, text string) (*core.Analysis, error) {
	body, err := json.Marshal(remoteRequest{LogText: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
	}

	return decodeAnalysis(data)
}

// decodeAnalysis validates and maps a response body. The analysis may be
// at the top level or wrapped in an "analysis" field.
func decodeAnalysis(data []byte) (*core.Analysis, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if inner, ok := envelope["analysis"]; ok && len(inner) > 0 && inner[0] == '{' {
		data = inner
	}

	result, err := gojsonschema.Validate(analysisSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnalysis, strings.Join(msgs, "; "))
	}

	var rr remoteResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	actions := rr.RecommendedActions
	if len(actions) == 0 {
		actions = rr.Remediation
	}
	if actions == nil {
		actions = []string{}
	}

	return &core.Analysis{
		Severity:            core.ParseSeverity(rr.Severity),
		Category:            rr.Category,
		Summary:             core.Truncate(rr.Summary, core.MaxSummaryLength),
		RootCause:           rr.RootCause,
		RecommendedActions:  actions,
		RemediationPlaybook: strings.TrimSpace(rr.Playbook),
		Engine:              core.EngineRemote,
	}, nil
}
