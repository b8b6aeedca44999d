package core

import "time"

// StageID names one conceptual step of the processing pipeline.
type StageID string

const (
	StageCollector    StageID = "collector"
	StageAnalyzer     StageID = "analyzer"
	StageTriage       StageID = "triage"
	StageRemediation  StageID = "remediation"
	StageOrchestrator StageID = "orchestrator"
	StageReporter     StageID = "reporter"
	StageLearning     StageID = "learning"
)

// Stages lists every stage id in display order.
var Stages = []StageID{
	StageCollector,
	StageAnalyzer,
	StageTriage,
	StageRemediation,
	StageOrchestrator,
	StageReporter,
	StageLearning,
}

// Valid reports whether id is one of the enumerated stages.
func (id StageID) Valid() bool {
	for _, s := range Stages {
		if s == id {
			return true
		}
	}
	return false
}

// StageState is the coarse status of a stage.
type StageState string

const (
	StageIdle    StageState = "idle"
	StageRunning StageState = "running"
	StageError   StageState = "error"
)

// MaxStageEvents bounds StageStatus.RecentEvents.
const MaxStageEvents = 10

// StageStatus is the externally visible state of one stage.
type StageStatus struct {
	Status       StageState `json:"status"`
	LastUpdated  *time.Time `json:"lastUpdated"`
	RecentEvents []string   `json:"recentEvents"`
}
