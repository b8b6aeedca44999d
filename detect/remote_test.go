package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vigil/config"
	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRemote(t *testing.T, url string, timeout time.Duration) *RemoteAnalyzer {
	t.Helper()
	r, err := NewRemoteAnalyzer(config.AnalysisConfig{
		URL:         url,
		Timeout:     timeout,
		MaxFailures: 2,
		Cooldown:    time.Minute,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return r
}

func TestRemoteAnalyzerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "disk failure on node-3", body["logText"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"severity":"critical","category":"Infrastructure","summary":"Disk failed","root_cause":"bad sector","recommended_actions":["replace disk"]}`))
	}))
	defer srv.Close()

	a, err := newTestRemote(t, srv.URL, time.Second).Analyze(context.Background(), "disk failure on node-3")
	require.NoError(t, err)
	assert.Equal(t, core.SeverityHigh, a.Severity)
	assert.Equal(t, "Infrastructure", a.Category)
	assert.Equal(t, "Disk failed", a.Summary)
	assert.Equal(t, "bad sector", a.RootCause)
	assert.Equal(t, []string{"replace disk"}, a.RecommendedActions)
	assert.Equal(t, core.EngineRemote, a.Engine)
}

func TestRemoteAnalyzerWrappedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"analysis":{"severity":"MEDIUM","category":"Warning","summary":"s","remediation":["a","b"]}}`))
	}))
	defer srv.Close()

	a, err := newTestRemote(t, srv.URL, time.Second).Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, core.SeverityMedium, a.Severity)
	assert.Equal(t, []string{"a", "b"}, a.RecommendedActions)
}

func TestRemoteAnalyzerRemediationPlaybook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"severity":"HIGH","category":"IAM","summary":"key leaked","remediation_playbook":"disable_sa_key"}`))
	}))
	defer srv.Close()

	a, err := newTestRemote(t, srv.URL, time.Second).Analyze(context.Background(), "service account key created from 1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, core.EngineRemote, a.Engine)
	assert.Equal(t, "disable_sa_key", a.RemediationPlaybook)

	Triage(a, "service account key created from 1.2.3.4")
	assert.Equal(t, "disable_sa_key", a.RemediationPlaybook)
	require.Len(t, a.RemediationActions, 1)
	assert.Equal(t, "disable_sa_key", a.RemediationActions[0].Type)
}

func TestRemoteAnalyzerRejectsNonStringPlaybook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"severity":"HIGH","category":"IAM","summary":"s","remediation_playbook":7}`))
	}))
	defer srv.Close()

	_, err := newTestRemote(t, srv.URL, time.Second).Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidAnalysis)
}

func TestRemoteAnalyzerFailures(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		target  error
	}{
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			target:  ErrRemoteStatus,
		},
		"missing fields": {
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"severity":"HIGH"}`)) },
			target:  ErrInvalidAnalysis,
		},
		"wrong types": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"severity":3,"category":"c","summary":"s"}`))
			},
			target: ErrInvalidAnalysis,
		},
		"not json": {
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<html>`)) },
			target:  ErrInvalidAnalysis,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := newTestRemote(t, srv.URL, time.Second).Analyze(context.Background(), "x")
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestRemoteAnalyzerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestRemote(t, srv.URL, 20*time.Millisecond).Analyze(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "timeout", FallbackLabel(err))
}

func TestRemoteAnalyzerNotConfigured(t *testing.T) {
	_, err := newTestRemote(t, "", time.Second).Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrAnalyzerUnavailable)
}

func TestRemoteAnalyzerCircuitOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRemote(t, srv.URL, time.Second)
	for i := 0; i < 2; i++ {
		_, err := r.Analyze(context.Background(), "x")
		assert.ErrorIs(t, err, ErrRemoteStatus)
	}

	_, err := r.Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker skips the call")
}

func TestNewRemoteAnalyzerInvalidBreaker(t *testing.T) {
	_, err := NewRemoteAnalyzer(config.AnalysisConfig{URL: "http://x", Timeout: time.Second}, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, core.ErrInvalidCircuitBreakerConfig)
}
