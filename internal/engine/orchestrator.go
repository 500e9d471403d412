package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anomalystack/anomaly-scan/internal/detect"
	"github.com/anomalystack/anomaly-scan/internal/metrics"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/scanner"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// Collector produces one detection window from the live host.
type Collector interface {
	Collect(ctx context.Context) (detect.Window, error)
}

// Detector confirms anomalies inside a window.
type Detector interface {
	Detect(ctx context.Context, window detect.Window) (detect.Result, error)
}

// Extractor derives patterns from confirmed anomalies.
type Extractor interface {
	Extract(ctx context.Context, records []models.AnomalyRecord) ([]models.Pattern, error)
}

// Synthesizer compiles patterns into scanner artifacts.
type Synthesizer interface {
	Synthesize(ctx context.Context, patterns []models.Pattern) ([]models.ScannerSpec, models.ScannerManifest, error)
}

// Runner executes a scanner batch.
type Runner interface {
	Run(ctx context.Context, specs []models.ScannerSpec) []models.ScanResult
}

// PatternSource exposes the accumulated pattern library.
type PatternSource interface {
	LoadPatterns(ctx context.Context) ([]models.Pattern, error)
}

// Assessor folds scan results into a risk assessment.
type Assessor interface {
	Assess(results []models.ScanResult) models.RiskAssessment
}

// Orchestrator drives the full pipeline: collect, detect, extract,
// synthesize, scan, aggregate. Empty output from one stage skips its
// dependents rather than failing the run; only persistence errors and
// context cancellation abort.
type Orchestrator struct {
	logger      *slog.Logger
	collector   Collector
	detector    Detector
	extractor   Extractor
	synthesizer Synthesizer
	runner      Runner
	assessor    Assessor
	library     PatternSource
	status      *StatusFile
	scannersDir string
}

// NewOrchestrator wires the pipeline stages together. Status may be nil when
// no status document should be maintained.
func NewOrchestrator(
	logger *slog.Logger,
	collector Collector,
	detector Detector,
	extractor Extractor,
	synthesizer Synthesizer,
	runner Runner,
	assessor Assessor,
	library PatternSource,
	status *StatusFile,
	scannersDir string,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:      logger,
		collector:   collector,
		detector:    detector,
		extractor:   extractor,
		synthesizer: synthesizer,
		runner:      runner,
		assessor:    assessor,
		library:     library,
		status:      status,
		scannersDir: scannersDir,
	}
}

// Run executes one full pipeline pass. The summary is always populated, even
// when the run aborts; the returned error is non-nil only for fatal errors.
func (o *Orchestrator) Run(ctx context.Context) (models.PipelineSummary, error) {
	summary := models.PipelineSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	o.logger.Info("pipeline run starting", "run_id", summary.RunID)

	fatal := func(stage models.StageName, start time.Time, err error) (models.PipelineSummary, error) {
		summary.Stages = append(summary.Stages, models.StageResult{
			Stage:    stage,
			Status:   models.StageFailed,
			Error:    err.Error(),
			Duration: time.Since(start),
		})
		metrics.ObserveStage(string(stage), string(models.StageFailed), time.Since(start))
		summary.FinishedAt = time.Now().UTC()
		metrics.ObservePipelineRun(metrics.OutcomeError)
		o.recordStatus(summary)
		return summary, err
	}

	// Collect. A host we cannot sample is degraded, not fatal: detection
	// simply has nothing to chew on.
	var window detect.Window
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return fatal(models.StageCollect, start, err)
	}
	window, err := o.collector.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil || utils.IsKind(err, utils.KindPersistence) {
			return fatal(models.StageCollect, start, err)
		}
		o.logger.Warn("collection failed, continuing with empty window", "error", err)
		summary.Stages = append(summary.Stages, o.stageResult(models.StageCollect, models.StageFailed, err.Error(), 0, start))
	} else {
		count := len(window.System) + len(window.Process) + len(window.Logs)
		summary.Stages = append(summary.Stages, o.stageResult(models.StageCollect, models.StageSuccess, "", count, start))
	}

	// Detect.
	var anomalies []models.AnomalyRecord
	start = time.Now()
	if err := ctx.Err(); err != nil {
		return fatal(models.StageDetect, start, err)
	}
	if windowEmpty(window) {
		summary.Stages = append(summary.Stages, o.stageResult(models.StageDetect, models.StageSkipped, "", 0, start))
	} else {
		result, err := o.detector.Detect(ctx, window)
		if err != nil {
			return fatal(models.StageDetect, start, err)
		}
		anomalies = result.Anomalies
		metrics.AddAnomalies(len(anomalies))
		summary.Stages = append(summary.Stages, o.stageResult(models.StageDetect, models.StageSuccess, "", len(anomalies), start))
	}

	// Extract. Zero anomalies is a healthy host, not a failure.
	var patterns []models.Pattern
	start = time.Now()
	if len(anomalies) == 0 {
		summary.Stages = append(summary.Stages, o.stageResult(models.StageExtract, models.StageSkipped, "", 0, start))
	} else {
		patterns, err = o.extractor.Extract(ctx, anomalies)
		if err != nil {
			return fatal(models.StageExtract, start, err)
		}
		summary.Stages = append(summary.Stages, o.stageResult(models.StageExtract, models.StageSuccess, "", len(patterns), start))
	}

	// Synthesize. Scanners are compiled from the whole accumulated library,
	// not just this run's patterns, so earlier learnings keep their scanners.
	var specs []models.ScannerSpec
	start = time.Now()
	if len(patterns) == 0 {
		summary.Stages = append(summary.Stages, o.stageResult(models.StageSynthesize, models.StageSkipped, "", 0, start))
	} else {
		compiled := patterns
		if o.library != nil {
			stored, err := o.library.LoadPatterns(ctx)
			if err != nil {
				return fatal(models.StageSynthesize, start, err)
			}
			if len(stored) > 0 {
				compiled = stored
			}
		}
		specs, _, err = o.synthesizer.Synthesize(ctx, compiled)
		if err != nil {
			return fatal(models.StageSynthesize, start, err)
		}
		summary.Stages = append(summary.Stages, o.stageResult(models.StageSynthesize, models.StageSuccess, "", len(specs), start))
	}

	// Scan. When this run generated nothing, fall back to scanners from
	// previous runs so a quiet window still verifies the host.
	var results []models.ScanResult
	start = time.Now()
	if len(specs) == 0 && o.scannersDir != "" {
		loaded, _, err := scanner.LoadScanners(o.scannersDir)
		if err != nil {
			return fatal(models.StageScan, start, err)
		}
		specs = loaded
	}
	if err := ctx.Err(); err != nil {
		return fatal(models.StageScan, start, err)
	}
	if len(specs) == 0 {
		summary.Stages = append(summary.Stages, o.stageResult(models.StageScan, models.StageSkipped, "", 0, start))
	} else {
		results = o.runner.Run(ctx, specs)
		for _, res := range results {
			metrics.ObserveScannerExecution(res.Success)
		}
		summary.Stages = append(summary.Stages, o.stageResult(models.StageScan, models.StageSuccess, "", len(results), start))
	}

	// Aggregate. Always produces an assessment, even over an empty batch.
	start = time.Now()
	assessment := o.assessor.Assess(results)
	summary.Risk = &assessment
	metrics.SetRiskProbability(assessment.Probability)
	summary.Stages = append(summary.Stages, o.stageResult(models.StageAggregate, models.StageSuccess, "", len(results), start))

	summary.FinishedAt = time.Now().UTC()
	summary.OverallSuccess = true
	for _, st := range summary.Stages {
		if st.Status == models.StageFailed {
			summary.OverallSuccess = false
		}
	}

	outcome := metrics.OutcomeSuccess
	if !summary.OverallSuccess {
		outcome = metrics.OutcomeError
	}
	metrics.ObservePipelineRun(outcome)
	o.recordStatus(summary)

	o.logger.Info("pipeline run finished",
		"run_id", summary.RunID,
		"success", summary.OverallSuccess,
		"risk", assessment.Probability,
		"level", assessment.Level)
	return summary, nil
}

// Monitor runs the pipeline on a fixed interval until ctx is cancelled. An
// initial run fires immediately.
func (o *Orchestrator) Monitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("monitor run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) stageResult(stage models.StageName, status models.StageStatus, errMsg string, count int, start time.Time) models.StageResult {
	duration := time.Since(start)
	metrics.ObserveStage(string(stage), string(status), duration)
	o.logger.Debug("stage finished", "stage", stage, "status", status, "count", count, "duration", duration)
	return models.StageResult{
		Stage:    stage,
		Status:   status,
		Error:    errMsg,
		Count:    count,
		Duration: duration,
	}
}

func (o *Orchestrator) recordStatus(summary models.PipelineSummary) {
	if o.status == nil {
		return
	}
	err := o.status.Update(func(s *models.SystemStatus) {
		s.LastRunTime = summary.FinishedAt
		s.LastOverallSuccess = summary.OverallSuccess
		if st, ok := summary.Stage(models.StageCollect); ok && st.Status == models.StageSuccess {
			s.LastCollectionTime = summary.FinishedAt
		}
		if st, ok := summary.Stage(models.StageExtract); ok && st.Status == models.StageSuccess {
			s.LastExtractionTime = summary.FinishedAt
			s.TotalPatterns += st.Count
		}
		if st, ok := summary.Stage(models.StageSynthesize); ok && st.Status == models.StageSuccess {
			s.LastGenerationTime = summary.FinishedAt
			s.TotalScanners = st.Count
		}
		if summary.Risk != nil {
			s.LastRiskProbability = summary.Risk.Probability
			s.LastRiskLevel = summary.Risk.Level
		}
		if summary.OverallSuccess {
			s.ConsecutiveRunErrors = 0
		} else {
			s.ConsecutiveRunErrors++
		}
	})
	if err != nil {
		o.logger.Warn("status update failed", "error", err)
	}
}

func windowEmpty(window detect.Window) bool {
	return len(window.System) == 0 && len(window.Process) == 0 && len(window.Logs) == 0
}
