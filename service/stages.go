package service

import (
	"fmt"

	"vigil/core"
)

// StageContext is what a stage step sees when it runs
type StageContext struct {
	Alert    *core.Alert
	Analysis *core.Analysis
	Playbook string
}

// StageStep is one tracker event. When may be nil to always run.
type StageStep struct {
	Stage   core.StageID
	When    func(sc *StageContext) bool
	Message func(sc *StageContext) string
}

// StagePlan is the ordered list of stage events emitted for one alert
type StagePlan []StageStep

// Validate checks that every step names a known stage and has a message
func (p StagePlan) Validate() error {
	for i, step := range p {
		if !step.Stage.Valid() {
			return fmt.Errorf("%w: step %d names %q", core.ErrUnknownStage, i, step.Stage)
		}
		if step.Message == nil {
			return fmt.Errorf("step %d (%s) has no message", i, step.Stage)
		}
	}
	return nil
}

// Run records the plan's applicable steps as running events, in order
func (p StagePlan) Run(tracker *StageTracker, sc *StageContext) {
	for _, step := range p {
		if step.When != nil && !step.When(sc) {
			continue
		}
		tracker.Record(step.Stage, core.StageRunning, step.Message(sc))
	}
}

const eventSummaryLength = 80

func hasPlaybook(sc *StageContext) bool { return sc.Playbook != "" }

func isMalicious(sc *StageContext) bool { return sc.Alert != nil && sc.Alert.Malicious }

// collectedPlan covers alerts arriving from the push and poll channels
var collectedPlan = StagePlan{
	{
		Stage: core.StageCollector,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Collected %s entry from %s", sc.Alert.Source, sc.Alert.Category)
		},
	},
	{
		Stage: core.StageAnalyzer,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Classified %s: %s", sc.Alert.Severity, core.Truncate(sc.Alert.Summary, eventSummaryLength))
		},
	},
	{
		Stage: core.StageTriage,
		When:  isMalicious,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Escalated alert %s: %s", sc.Alert.ID, sc.Alert.Reason)
		},
	},
	{
		Stage: core.StageRemediation,
		When:  hasPlaybook,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Suggested playbook %s for alert %s", sc.Playbook, sc.Alert.ID)
		},
	},
	{
		Stage: core.StageReporter,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Broadcast alert %s (%s)", sc.Alert.ID, sc.Alert.Severity)
		},
	},
}

// analyzePlan covers free-text analysis requests
var analyzePlan = StagePlan{
	{
		Stage: core.StageAnalyzer,
		Message: func(sc *StageContext) string {
			if sc.Analysis.FallbackReason != "" {
				return fmt.Sprintf("Remote analysis unavailable (%s), used local rules: %s",
					core.Truncate(sc.Analysis.FallbackReason, eventSummaryLength), sc.Analysis.Category)
			}
			return fmt.Sprintf("Analyzed with %s engine: %s", sc.Analysis.Engine, sc.Analysis.Category)
		},
	},
	{
		Stage: core.StageTriage,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Prioritized %s (score %.0f)", sc.Analysis.Priority, sc.Analysis.PriorityScore)
		},
	},
	{
		Stage: core.StageRemediation,
		When:  hasPlaybook,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Suggested playbook %s (%d action(s) awaiting approval)",
				sc.Playbook, len(sc.Analysis.RemediationActions))
		},
	},
	{
		Stage: core.StageReporter,
		Message: func(sc *StageContext) string {
			title := sc.Analysis.Summary
			if sc.Analysis.Report != nil {
				title = sc.Analysis.Report.Title
			}
			return fmt.Sprintf("Report ready: %s", core.Truncate(title, eventSummaryLength))
		},
	},
	{
		Stage: core.StageOrchestrator,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Dispatched alert %s", sc.Alert.ID)
		},
	},
	{
		Stage: core.StageLearning,
		Message: func(sc *StageContext) string {
			return fmt.Sprintf("Recorded %s outcome for %s", sc.Analysis.Severity, sc.Analysis.Category)
		},
	},
}
