package api

import (
	"net/http"

	"vigil/ingest"
)

// listDeadLetters returns a page of dead-lettered deliveries, newest first.
// The reason query parameter filters by failure reason.
func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if a.dlq == nil {
		writeError(w, http.StatusServiceUnavailable, "DLQ not available", nil, a.logger)
		return
	}

	params := ParsePaginationParams(r, 50, 100)
	reason := r.URL.Query().Get("reason")

	entries, total, err := a.dlq.List(r.Context(), params.Page, params.Limit, reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve DLQ entries", err, a.logger)
		return
	}
	if entries == nil {
		entries = []*ingest.DeadLetter{}
	}

	a.respondJSON(w, NewPaginationResponse(entries, int64(total), params.Page, params.Limit), http.StatusOK)
}
