package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vigil/core"
	"vigil/ingest"
	"vigil/storage"
	"vigil/util/goroutine"
)

// maxAnalyzeBodySize bounds /analyze-log request bodies
const maxAnalyzeBodySize = 1 << 20

// historyTimeout bounds the operational store query behind /logs
const historyTimeout = 10 * time.Second

const healthCheckTimeout = 2 * time.Second

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// pubsubPush acknowledges every delivery. Payload problems answer 204 so
// Pub/Sub does not redeliver them.
func (a *API) pubsubPush(w http.ResponseWriter, r *http.Request) {
	if a.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "Push ingestion not available", nil, a.logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ingest.MaxPushBodySize))
	if err != nil {
		// An oversized body would be rejected again on redelivery.
		a.logger.Warnw("Failed to read push body", "error", err)
		a.pipeline.RecordFault(core.StageCollector, "push body unreadable: "+err.Error())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result := a.gateway.HandlePush(r.Context(), body, a.clientIP(r))
	if result.Status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"status":     "ok",
		"processed":  result.Processed,
		"duplicates": result.Duplicates,
	}, http.StatusOK)
}

// AnalyzeRequest is the /analyze-log body. Log and Input are accepted as
// aliases of LogText.
type AnalyzeRequest struct {
	LogText string `json:"logText" validate:"required"`
}

// parseAnalyzeRequest extracts the log text from the first non-blank of the
// logText, log and input keys. Non-string values are rejected.
func (a *API) parseAnalyzeRequest(r *http.Request, w http.ResponseWriter) (*AnalyzeRequest, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBodySize))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	req := &AnalyzeRequest{}
	for _, key := range []string{"logText", "log", "input"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", key)
		}
		if req.LogText = strings.TrimSpace(s); req.LogText != "" {
			break
		}
	}

	if err := a.validate.Struct(req); err != nil {
		return nil, core.ErrEmptyLogText
	}
	return req, nil
}

func (a *API) analyzeLog(w http.ResponseWriter, r *http.Request) {
	defer goroutine.RecoverWith("analyze-log", a.logger, func(p interface{}) {
		a.pipeline.RecordFault(core.StageAnalyzer, fmt.Sprintf("analysis failed: %v", p))
		a.respondJSON(w, map[string]interface{}{
			"success": false,
			"error":   "Analysis failed",
		}, http.StatusInternalServerError)
	})

	req, err := a.parseAnalyzeRequest(r, w)
	if err != nil {
		a.respondJSON(w, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		}, http.StatusBadRequest)
		return
	}

	analysis, err := a.pipeline.AnalyzeText(r.Context(), req.LogText)
	if err != nil {
		if errors.Is(err, core.ErrEmptyLogText) {
			a.respondJSON(w, map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			}, http.StatusBadRequest)
			return
		}
		a.logger.Errorw("Free-text analysis failed", "error", err)
		a.pipeline.RecordFault(core.StageAnalyzer, "analysis failed: "+err.Error())
		a.respondJSON(w, map[string]interface{}{
			"success": false,
			"error":   "Analysis failed",
		}, http.StatusInternalServerError)
		return
	}

	a.respondJSON(w, map[string]interface{}{
		"success":  true,
		"analysis": analysis,
	}, http.StatusOK)
}

func (a *API) connectGCP(w http.ResponseWriter, r *http.Request) {
	if a.poller == nil {
		a.respondJSON(w, map[string]interface{}{
			"connected": false,
			"error":     ingest.ErrNoLogSource.Error(),
		}, http.StatusInternalServerError)
		return
	}

	since, err := a.poller.Enable(r.Context())
	if err != nil {
		a.logger.Warnw("Failed to connect log source", "error", err)
		a.pipeline.RecordFault(core.StageCollector, "log source probe failed: "+err.Error())
		a.respondJSON(w, map[string]interface{}{
			"connected": false,
			"error":     sanitizeErrorMessage(err.Error()),
		}, http.StatusInternalServerError)
		return
	}

	a.logger.Infow("Cloud Logging poller enabled", "since", since)
	a.respondJSON(w, map[string]interface{}{
		"connected": true,
		"since":     core.FormatTime(since),
	}, http.StatusOK)
}

func (a *API) disconnectGCP(w http.ResponseWriter, r *http.Request) {
	if a.poller != nil && a.poller.Enabled() {
		a.poller.Disable()
		a.logger.Infow("Cloud Logging poller disabled", "watermark", a.poller.Watermark())
	}
	a.respondJSON(w, map[string]interface{}{"connected": false}, http.StatusOK)
}

func (a *API) agentsActivity(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.pipeline.Activity(), http.StatusOK)
}

func (a *API) recentLogs(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusInternalServerError, "Alert history not available", nil, a.logger)
		return
	}

	ctx, cancel := contextWithTimeout(r, historyTimeout)
	defer cancel()

	alerts, err := a.history.RecentAlerts(ctx, storage.DefaultRecentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve alert history", err, a.logger)
		return
	}
	if alerts == nil {
		alerts = []core.Alert{}
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

func (a *API) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	serveWs(a.hub, a.logger, w, r)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if a.history == nil {
		status = "degraded"
	}

	stores := make(map[string]string, len(a.healthChecks))
	for name, check := range a.healthChecks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			a.logger.Warnw("Store health check failed", "store", name, "error", err)
			stores[name] = "unavailable"
			status = "degraded"
			continue
		}
		stores[name] = "ok"
	}

	polling := false
	if a.poller != nil {
		polling = a.poller.Enabled()
	}

	a.respondJSON(w, map[string]interface{}{
		"status":      status,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"subscribers": a.hub.ClientCount(),
		"polling":     polling,
		"stores":      stores,
	}, http.StatusOK)
}
