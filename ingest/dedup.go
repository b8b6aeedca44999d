package ingest

import (
	"context"
	"fmt"
	"time"

	"vigil/metrics"
	"vigil/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// SharedDedupStore claims fingerprints across replicas
type SharedDedupStore interface {
	Claim(ctx context.Context, fingerprint string, rec storage.DedupRecord) (bool, *storage.DedupRecord, error)
}

// Deduplicator drops redelivered push entries. A shared store is consulted
// first when configured; on error, or without one, a bounded in-process
// LRU is used.
type Deduplicator struct {
	shared SharedDedupStore
	local  *lru.Cache[string, storage.DedupRecord]
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewDeduplicator creates a Deduplicator. shared may be nil.
func NewDeduplicator(size int, shared SharedDedupStore, logger *zap.SugaredLogger) (*Deduplicator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dedup cache size must be positive, got %d", size)
	}
	cache, err := lru.New[string, storage.DedupRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Deduplicator{
		shared: shared,
		local:  cache,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Seen records fingerprint as delivered with alertID and reports whether it
// had already been seen, returning the alert ID of the first delivery.
func (d *Deduplicator) Seen(ctx context.Context, fingerprint, alertID string) (bool, string) {
	rec := storage.DedupRecord{AlertID: alertID, FirstSeen: d.now().UTC()}

	if d.shared != nil {
		first, existing, err := d.shared.Claim(ctx, fingerprint, rec)
		if err == nil {
			if first {
				d.local.Add(fingerprint, rec)
				return false, ""
			}
			metrics.DuplicateEntries.Inc()
			if existing != nil {
				return true, existing.AlertID
			}
			return true, ""
		}
		d.logger.Warnw("Shared dedup store unavailable, using local cache",
			"fingerprint", fingerprint,
			"error", err)
	}

	if found, _ := d.local.ContainsOrAdd(fingerprint, rec); found {
		metrics.DuplicateEntries.Inc()
		if prev, ok := d.local.Peek(fingerprint); ok {
			return true, prev.AlertID
		}
		return true, ""
	}
	return false, ""
}
