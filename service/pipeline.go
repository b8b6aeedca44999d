package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/detect"
	"vigil/metrics"
	"vigil/notify"
	"vigil/storage"
	"vigil/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSinkTimeout bounds each best-effort persistence write
const DefaultSinkTimeout = 5 * time.Second

// Broadcaster pushes alerts to live subscribers without blocking
type Broadcaster interface {
	BroadcastAlert(alert *core.Alert)
}

// Relay forwards alerts to a message bus
type Relay interface {
	Publish(ctx context.Context, alert *core.Alert) error
}

// PipelineConfig wires a Pipeline. Only Analyzer is required.
type PipelineConfig struct {
	Classifier  *detect.Classifier
	Analyzer    detect.Analyzer
	Reporter    *notify.Reporter
	Broadcaster Broadcaster
	Sinks       []storage.AlertSink
	Relay       Relay
	SinkTimeout time.Duration
}

// Pipeline classifies alerts, records stage activity, broadcasts and
// persists them. It owns the StageTracker.
type Pipeline struct {
	tracker     *StageTracker
	classifier  *detect.Classifier
	analyzer    detect.Analyzer
	reporter    *notify.Reporter
	broadcaster Broadcaster
	sinks       []storage.AlertSink
	relay       Relay
	sinkTimeout time.Duration
	logger      *zap.SugaredLogger

	newID func() string
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewPipeline creates a Pipeline
func NewPipeline(cfg PipelineConfig, logger *zap.SugaredLogger) (*Pipeline, error) {
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	for _, plan := range []StagePlan{collectedPlan, analyzePlan} {
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("invalid stage plan: %w", err)
		}
	}
	if cfg.Classifier == nil {
		cfg.Classifier = detect.NewClassifier(nil)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = notify.NewReporter(config.ReportConfig{})
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}

	return &Pipeline{
		tracker:     NewStageTracker(),
		classifier:  cfg.Classifier,
		analyzer:    cfg.Analyzer,
		reporter:    cfg.Reporter,
		broadcaster: cfg.Broadcaster,
		sinks:       cfg.Sinks,
		relay:       cfg.Relay,
		sinkTimeout: cfg.SinkTimeout,
		logger:      logger,
		newID:       func() string { return uuid.New().String() },
		now:         time.Now,
	}, nil
}

// Tracker returns the stage tracker
func (p *Pipeline) Tracker() *StageTracker {
	return p.tracker
}

// Activity returns a snapshot of every stage
func (p *Pipeline) Activity() map[core.StageID]core.StageStatus {
	return p.tracker.Snapshot()
}

// RecordFault marks a stage as errored
func (p *Pipeline) RecordFault(stage core.StageID, detail string) {
	p.tracker.Record(stage, core.StageError, detail)
}

// Process handles an alert collected from the push or poll channel. entry
// is the raw record the alert was normalized from.
func (p *Pipeline) Process(ctx context.Context, alert *core.Alert, entry interface{}) error {
	if alert == nil {
		return errors.New("alert is nil")
	}

	if malicious, reason := p.classifier.DetectMaliciousEntry(alert, entry); malicious {
		core.EscalateMalicious(alert, reason)
		metrics.MaliciousAlerts.WithLabelValues(alert.Source).Inc()
		p.logger.Infow("Alert escalated as malicious",
			"alert_id", alert.ID,
			"source", alert.Source,
			"reason", reason)
	}
	alert.Indicators = detect.ExtractIndicators(alert.Log)

	p.broadcast(alert)

	collectedPlan.Run(p.tracker, &StageContext{
		Alert:    alert,
		Playbook: detect.SuggestPlaybook(alert.Log, alert.Indicators),
	})

	p.persist(ctx, alert)
	return nil
}

// AnalyzeText analyzes free text, records the analyze stage plan and
// persists the resulting alert. Blank text is rejected with
// core.ErrEmptyLogText before any stage is touched.
func (p *Pipeline) AnalyzeText(ctx context.Context, text string) (*core.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyLogText
	}

	analysis, err := p.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze log text: %w", err)
	}
	detect.Triage(analysis, text)

	alert := &core.Alert{
		ID:         p.newID(),
		Time:       core.FormatTime(p.now()),
		Category:   analysis.Category,
		Severity:   analysis.Severity,
		Summary:    analysis.Summary,
		Log:        text,
		Source:     core.SourceAnalyze,
		Malicious:  analysis.Severity.IsMalicious(),
		Indicators: analysis.Indicators,
	}
	if alert.Summary == "" {
		alert.Summary = core.Truncate(text, core.MaxSummaryLength)
	}
	analysis.Report = p.reporter.Build(alert, analysis)

	analyzePlan.Run(p.tracker, &StageContext{
		Alert:    alert,
		Analysis: analysis,
		Playbook: analysis.RemediationPlaybook,
	})

	p.persist(ctx, alert)
	return analysis, nil
}

// Wait blocks until in-flight persistence writes finish
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) broadcast(alert *core.Alert) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.BroadcastAlert(alert)
	metrics.AlertsBroadcast.WithLabelValues(string(alert.Severity)).Inc()
}

// persist writes alert to every sink and the relay, each in its own
// goroutine with its own timeout. Failures are logged and counted only.
func (p *Pipeline) persist(ctx context.Context, alert *core.Alert) {
	base := context.WithoutCancel(ctx)

	for _, sink := range p.sinks {
		sink := sink
		p.fanOut(base, sink.Name(), func(ctx context.Context) error {
			return sink.InsertAlert(ctx, alert)
		}, alert.ID)
	}
	if p.relay != nil {
		p.fanOut(base, "relay", func(ctx context.Context) error {
			return p.relay.Publish(ctx, alert)
		}, alert.ID)
	}
}

func (p *Pipeline) fanOut(base context.Context, name string, write func(ctx context.Context) error, alertID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer goroutine.Recover("sink-"+name, p.logger)

		ctx, cancel := context.WithTimeout(base, p.sinkTimeout)
		defer cancel()

		err := write(ctx)
		switch {
		case err == nil:
			metrics.SinkWrites.WithLabelValues(name, "ok").Inc()
		case errors.Is(err, core.ErrSinkDisabled):
			metrics.SinkWrites.WithLabelValues(name, "disabled").Inc()
		default:
			metrics.SinkWrites.WithLabelValues(name, "error").Inc()
			p.logger.Warnw("Failed to persist alert",
				"sink", name,
				"alert_id", alertID,
				"error", err)
		}
	}()
}
