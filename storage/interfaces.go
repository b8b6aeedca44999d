package storage

import (
	"context"

	"vigil/core"
)

// AlertSink is a best-effort persistence target for finalized alerts.
type AlertSink interface {
	Name() string
	InsertAlert(ctx context.Context, alert *core.Alert) error
}

// AlertReader serves persisted alert history.
type AlertReader interface {
	RecentAlerts(ctx context.Context, limit int) ([]core.Alert, error)
}

// DefaultRecentLimit is the history size served to late subscribers.
const DefaultRecentLimit = 50
