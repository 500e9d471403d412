package models

import "time"

// StageName identifies a pipeline stage.
type StageName string

const (
	StageCollect    StageName = "collect"
	StageDetect     StageName = "detect"
	StageExtract    StageName = "extract"
	StageSynthesize StageName = "synthesize"
	StageScan       StageName = "scan"
	StageAggregate  StageName = "aggregate"
)

// StageStatus records how a stage ended. A stage short-circuited because
// upstream output was empty is skipped, never failed.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

// StageResult summarises one executed (or skipped) pipeline stage.
type StageResult struct {
	Stage    StageName     `json:"stage"`
	Status   StageStatus   `json:"status"`
	Error    string        `json:"error,omitempty"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

// PipelineSummary is the always-produced outcome of one orchestrator run.
type PipelineSummary struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Stages         []StageResult   `json:"stages"`
	OverallSuccess bool            `json:"overall_success"`
	Risk           *RiskAssessment `json:"risk,omitempty"`
}

// Stage returns the result for the named stage, if present.
func (s PipelineSummary) Stage(name StageName) (StageResult, bool) {
	for _, st := range s.Stages {
		if st.Stage == name {
			return st, true
		}
	}
	return StageResult{}, false
}

// SystemStatus mirrors the persisted status file the CLI reports on.
type SystemStatus struct {
	LastCollectionTime   time.Time `json:"last_collection_time"`
	LastExtractionTime   time.Time `json:"last_extraction_time"`
	LastGenerationTime   time.Time `json:"last_generation_time"`
	LastRunTime          time.Time `json:"last_run_time"`
	TotalPatterns        int       `json:"total_patterns"`
	TotalScanners        int       `json:"total_scanners"`
	Initialized          bool      `json:"initialized"`
	LastRiskProbability  float64   `json:"last_risk_probability"`
	LastRiskLevel        RiskLevel `json:"last_risk_level,omitempty"`
	LastOverallSuccess   bool      `json:"last_overall_success"`
	ConsecutiveRunErrors int       `json:"consecutive_run_errors"`
}
