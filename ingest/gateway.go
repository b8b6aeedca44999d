package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// AlertProcessor carries a normalized alert through classification, stage
// tracking, broadcast and persistence. entry is the raw record the alert
// was normalized from.
type AlertProcessor interface {
	Process(ctx context.Context, alert *core.Alert, entry interface{}) error
	RecordFault(stage core.StageID, detail string)
}

// PushResult is the outcome of one push delivery. Status is always 200 or
// 204 so the broker never redelivers.
type PushResult struct {
	Status     int    `json:"-"`
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Reason     string `json:"-"`
}

// Gateway accepts Pub/Sub push deliveries
type Gateway struct {
	normalizer *Normalizer
	processor  AlertProcessor
	dedup      *Deduplicator
	dlq        DeadLetterWriter
	logger     *zap.SugaredLogger
}

// NewGateway creates a Gateway. dedup and dlq may be nil.
func NewGateway(normalizer *Normalizer, processor AlertProcessor, dedup *Deduplicator, dlq DeadLetterWriter, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		normalizer: normalizer,
		processor:  processor,
		dedup:      dedup,
		dlq:        dlq,
		logger:     logger,
	}
}

// HandlePush processes one delivery. It never reports failure: malformed
// deliveries yield 204 and anything else 200, with faults dead-lettered
// and recorded on the collector stage.
func (g *Gateway) HandlePush(ctx context.Context, body []byte, sourceIP string) (result PushResult) {
	result.Status = http.StatusOK

	defer goroutine.RecoverWith("push-delivery", g.logger, func(r interface{}) {
		detail := fmt.Sprintf("push delivery fault: %v", r)
		g.processor.RecordFault(core.StageCollector, detail)
		g.deadLetter(ctx, &FailedDelivery{
			Channel:      core.SourcePubSub,
			RawPayload:   string(body),
			ErrorReason:  ReasonProcessingFault,
			ErrorDetails: detail,
			SourceIP:     sourceIP,
		})
		metrics.PushDeliveries.WithLabelValues("fault").Inc()
		result.Status = http.StatusOK
		result.Reason = ReasonProcessingFault
	})

	env, payload, err := DecodePushEnvelope(body)
	if err != nil {
		messageID := ""
		if env != nil {
			messageID = env.Message.MessageID
		}
		g.logger.Warnw("Malformed push delivery",
			"message_id", messageID,
			"source_ip", sourceIP,
			"error", err)
		g.deadLetter(ctx, &FailedDelivery{
			Channel:      core.SourcePubSub,
			MessageID:    messageID,
			RawPayload:   string(body),
			ErrorReason:  ReasonMalformedEnvelope,
			ErrorDetails: err.Error(),
			SourceIP:     sourceIP,
		})
		metrics.PushDeliveries.WithLabelValues("malformed").Inc()
		return PushResult{Status: http.StatusNoContent, Reason: ReasonMalformedEnvelope}
	}

	entries := ExpandEntries(payload)
	if len(entries) == 0 {
		g.deadLetter(ctx, &FailedDelivery{
			Channel:      core.SourcePubSub,
			MessageID:    env.Message.MessageID,
			RawPayload:   string(body),
			ErrorReason:  ReasonEmptyPayload,
			ErrorDetails: "payload contains no entries",
			SourceIP:     sourceIP,
		})
		metrics.PushDeliveries.WithLabelValues("empty").Inc()
		return PushResult{Status: http.StatusNoContent, Reason: ReasonEmptyPayload}
	}

	for _, entry := range entries {
		alert := g.normalizer.Normalize(entry, core.SourcePubSub)

		if g.dedup != nil {
			if dup, firstID := g.dedup.Seen(ctx, Fingerprint(entry), alert.ID); dup {
				g.logger.Debugw("Dropping duplicate entry",
					"message_id", env.Message.MessageID,
					"first_alert_id", firstID)
				result.Duplicates++
				continue
			}
		}

		metrics.EventsIngested.WithLabelValues(core.SourcePubSub).Inc()
		if err := g.processEntry(ctx, alert, entry); err != nil {
			g.logger.Errorw("Failed to process push entry",
				"message_id", env.Message.MessageID,
				"alert_id", alert.ID,
				"error", err)
			g.processor.RecordFault(core.StageCollector, fmt.Sprintf("failed to process entry: %v", err))
			g.deadLetter(ctx, &FailedDelivery{
				Channel:      core.SourcePubSub,
				MessageID:    env.Message.MessageID,
				RawPayload:   serialize(entry),
				ErrorReason:  ReasonProcessingFault,
				ErrorDetails: err.Error(),
				SourceIP:     sourceIP,
			})
			continue
		}
		result.Processed++
	}

	switch {
	case result.Processed > 0:
		metrics.PushDeliveries.WithLabelValues("processed").Inc()
	case result.Duplicates > 0:
		metrics.PushDeliveries.WithLabelValues("duplicate").Inc()
	default:
		metrics.PushDeliveries.WithLabelValues("fault").Inc()
	}
	return result
}

// processEntry isolates one entry so a panic does not abandon the rest of
// the delivery.
func (g *Gateway) processEntry(ctx context.Context, alert *core.Alert, entry interface{}) (err error) {
	defer goroutine.RecoverWith("push-entry", g.logger, func(r interface{}) {
		err = fmt.Errorf("panic: %v", r)
	})
	return g.processor.Process(ctx, alert, entry)
}

func (g *Gateway) deadLetter(ctx context.Context, failed *FailedDelivery) {
	if g.dlq == nil {
		return
	}
	if err := g.dlq.Add(context.WithoutCancel(ctx), failed); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warnw("Dead letter dropped", "reason", failed.ErrorReason, "error", err)
	}
}
