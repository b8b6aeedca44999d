package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"vigil/metrics"

	"go.uber.org/zap"
)

// Dead-letter reasons
const (
	ReasonMalformedEnvelope = "malformed_envelope"
	ReasonEmptyPayload      = "empty_payload"
	ReasonProcessingFault   = "processing_fault"
	ReasonPollFault         = "poll_fault"
)

// maxRawPayload caps the stored raw payload
const maxRawPayload = 64 * 1024

// FailedDelivery is a delivery or entry the pipeline could not use
type FailedDelivery struct {
	Channel      string // core.SourcePubSub or core.SourcePoll
	MessageID    string
	RawPayload   string
	ErrorReason  string
	ErrorDetails string
	SourceIP     string
}

// DeadLetter is a stored FailedDelivery
type DeadLetter struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Channel      string    `json:"channel"`
	MessageID    string    `json:"message_id"`
	RawPayload   string    `json:"raw_payload"`
	ErrorReason  string    `json:"error_reason"`
	ErrorDetails string    `json:"error_details"`
	SourceIP     string    `json:"source_ip"`
	Status       string    `json:"status"`
}

// DeadLetterWriter records failed deliveries
type DeadLetterWriter interface {
	Add(ctx context.Context, failed *FailedDelivery) error
}

// DLQ stores failed deliveries in SQLite so acknowledged-but-unused
// messages stay inspectable.
type DLQ struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewDLQ creates a new DLQ instance
func NewDLQ(db *sql.DB, logger *zap.SugaredLogger) *DLQ {
	return &DLQ{
		db:     db,
		logger: logger,
	}
}

// Add writes a failed delivery to the DLQ
func (d *DLQ) Add(ctx context.Context, failed *FailedDelivery) error {
	raw := failed.RawPayload
	if len(raw) > maxRawPayload {
		raw = raw[:maxRawPayload]
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO dead_letter_queue
		(channel, message_id, raw_payload, error_reason, error_details, source_ip, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')
	`,
		failed.Channel,
		failed.MessageID,
		raw,
		failed.ErrorReason,
		failed.ErrorDetails,
		failed.SourceIP,
	)
	if err != nil {
		metrics.DeadLetterInsertFailures.Inc()
		d.logger.Errorw("Failed to write delivery to DLQ",
			"channel", failed.Channel,
			"reason", failed.ErrorReason,
			"error", err)
		return fmt.Errorf("failed to write delivery to DLQ: %w", err)
	}

	metrics.DLQEventsTotal.WithLabelValues(failed.ErrorReason).Inc()
	d.logger.Debugw("Delivery written to DLQ",
		"channel", failed.Channel,
		"message_id", failed.MessageID,
		"reason", failed.ErrorReason)
	return nil
}

// List returns dead letters newest first with the total matching count.
// page is 1-based; an empty reason matches all.
func (d *DLQ) List(ctx context.Context, page, limit int, reason string) ([]*DeadLetter, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []interface{}
	if reason != "" {
		where = append(where, "error_reason = ?")
		args = append(args, reason)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_queue "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count DLQ entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, channel, COALESCE(message_id, ''), raw_payload, error_reason,
		       COALESCE(error_details, ''), COALESCE(source_ip, ''), status
		FROM dead_letter_queue
		%s
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, limit, (page-1)*limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query DLQ entries: %w", err)
	}
	defer rows.Close()

	letters := []*DeadLetter{}
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(
			&dl.ID,
			&dl.Timestamp,
			&dl.Channel,
			&dl.MessageID,
			&dl.RawPayload,
			&dl.ErrorReason,
			&dl.ErrorDetails,
			&dl.SourceIP,
			&dl.Status,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan DLQ entry: %w", err)
		}
		letters = append(letters, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating DLQ entries: %w", err)
	}

	return letters, total, nil
}

// UpdateStatus marks a dead letter, e.g. "discarded" after inspection
func (d *DLQ) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE dead_letter_queue SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update DLQ entry status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DLQ entry not found: id=%d", id)
	}
	return nil
}
