package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// pollCycleTimeout bounds one fetch-and-process cycle. Cycles are not tied
// to the enable/disable lifecycle so disabling never cuts one short.
const pollCycleTimeout = 2 * time.Minute

// ErrNoLogSource is returned by Enable when no log source is configured
var ErrNoLogSource = errors.New("log source not configured")

// LogEntry is one record returned by a LogSource
type LogEntry struct {
	Time   time.Time
	Record map[string]interface{}
}

// LogSource is a queryable log store
type LogSource interface {
	// Probe checks that the source is reachable and readable
	Probe(ctx context.Context) error
	// Fetch returns up to limit entries strictly newer than since, oldest first
	Fetch(ctx context.Context, since time.Time, limit int) ([]LogEntry, error)
}

// PollerConfig holds poll tuning
type PollerConfig struct {
	Interval time.Duration
	PageSize int
	Lookback time.Duration
}

// Poller periodically pulls entries newer than its watermark and feeds
// them through the pipeline.
type Poller struct {
	source     LogSource
	normalizer *Normalizer
	processor  AlertProcessor
	dlq        DeadLetterWriter
	cfg        PollerConfig
	logger     *zap.SugaredLogger
	now        func() time.Time

	mu        sync.Mutex
	watermark time.Time
	enabled   bool
	stopCh    chan struct{}

	cycleMu sync.Mutex
	wg      sync.WaitGroup
}

// NewPoller creates a disabled Poller. source may be nil when no project
// is configured; Enable then fails. dlq may be nil.
func NewPoller(source LogSource, normalizer *Normalizer, processor AlertProcessor, dlq DeadLetterWriter, cfg PollerConfig, logger *zap.SugaredLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	return &Poller{
		source:     source,
		normalizer: normalizer,
		processor:  processor,
		dlq:        dlq,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Enable probes the source, resets the watermark to now minus the lookback
// and starts the ticker if it is not already running. It returns the new
// watermark. A failed probe leaves the poller state unchanged.
func (p *Poller) Enable(ctx context.Context) (time.Time, error) {
	if p.source == nil {
		return time.Time{}, ErrNoLogSource
	}
	if err := p.source.Probe(ctx); err != nil {
		return time.Time{}, fmt.Errorf("log source probe failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.watermark = p.now().UTC().Add(-p.cfg.Lookback)
	metrics.PollWatermark.Set(float64(p.watermark.Unix()))

	if !p.enabled {
		p.enabled = true
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go p.loop(p.stopCh)
	}

	p.logger.Infow("Log poller enabled",
		"since", p.watermark,
		"interval", p.cfg.Interval)
	return p.watermark, nil
}

// Disable stops future ticks. An in-flight cycle runs to completion and
// the watermark is kept.
func (p *Poller) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	p.enabled = false
	close(p.stopCh)
	p.logger.Infow("Log poller disabled", "watermark", p.watermark)
}

// Stop disables the poller and waits for the ticker goroutine to exit
func (p *Poller) Stop() {
	p.Disable()
	p.wg.Wait()
}

// Enabled reports whether the poller is running
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Watermark returns the exclusive lower bound of the next fetch
func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

func (p *Poller) loop(stop <-chan struct{}) {
	defer p.wg.Done()
	defer goroutine.Recover("log-poller", p.logger)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pollCycleTimeout)
			if _, err := p.PollOnce(ctx); err != nil && !errors.Is(err, core.ErrPollerDisabled) {
				p.logger.Warnw("Poll cycle failed", "error", err)
			}
			cancel()
		}
	}
}

// PollOnce runs one cycle and returns the number of entries processed.
// Entries are handled in ascending time order and the watermark advances
// after each one; the first failing entry ends the cycle.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if !p.Enabled() {
		return 0, core.ErrPollerDisabled
	}

	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	since := p.Watermark()
	entries, err := p.source.Fetch(ctx, since, p.cfg.PageSize)
	if err != nil {
		metrics.PollCycles.WithLabelValues("fetch_error").Inc()
		return 0, fmt.Errorf("failed to fetch log entries: %w", err)
	}
	if len(entries) == 0 {
		metrics.PollCycles.WithLabelValues("empty").Inc()
		return 0, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})

	processed := 0
	for _, entry := range entries {
		if !entry.Time.IsZero() && !entry.Time.After(since) {
			continue
		}

		alert := p.normalizer.Normalize(entry.Record, core.SourcePoll)
		metrics.EventsIngested.WithLabelValues(core.SourcePoll).Inc()

		if err := p.processEntry(ctx, alert, entry.Record); err != nil {
			detail := fmt.Sprintf("failed to process polled entry: %v", err)
			p.processor.RecordFault(core.StageCollector, detail)
			if p.dlq != nil {
				if dlqErr := p.dlq.Add(context.WithoutCancel(ctx), &FailedDelivery{
					Channel:      core.SourcePoll,
					RawPayload:   serialize(entry.Record),
					ErrorReason:  ReasonPollFault,
					ErrorDetails: err.Error(),
				}); dlqErr != nil {
					p.logger.Warnw("Dead letter dropped", "error", dlqErr)
				}
			}
			metrics.PollCycles.WithLabelValues("entry_error").Inc()
			return processed, fmt.Errorf("poll batch stopped after %d entries: %w", processed, err)
		}

		p.advance(entry.Time)
		processed++
	}

	metrics.PollCycles.WithLabelValues("ok").Inc()
	p.logger.Debugw("Poll cycle complete",
		"processed", processed,
		"watermark", p.Watermark())
	return processed, nil
}

func (p *Poller) processEntry(ctx context.Context, alert *core.Alert, record map[string]interface{}) (err error) {
	defer goroutine.RecoverWith("poll-entry", p.logger, func(r interface{}) {
		err = fmt.Errorf("panic: %v", r)
	})
	return p.processor.Process(ctx, alert, record)
}

// advance moves the watermark forward; it never regresses.
func (p *Poller) advance(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.After(p.watermark) {
		p.watermark = t.UTC()
		metrics.PollWatermark.Set(float64(p.watermark.Unix()))
	}
}
