package api

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// maxErrorMessageLength bounds error text returned to clients
const maxErrorMessageLength = 200

var (
	connStringPattern = regexp.MustCompile(`(?:mongodb(?:\+srv)?|clickhouse|redis|nats|sqlite)://[^\s"']+`)
	filePathPattern   = regexp.MustCompile(`(?:^|\s)/(?:[^/\s:"']+/)+[^/\s:"']*`)
	secretPattern     = regexp.MustCompile(`(?i)(password|secret|token|credential)[:=]\s*["']?[^"'\s]+["']?`)
)

// sanitizeErrorMessage strips connection strings, paths and secrets from
// text that is sent to clients
func sanitizeErrorMessage(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, " [FILE_PATH]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError logs the full error and sends a sanitized message to the client
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message,
				"error", err.Error(),
				"status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}

	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
