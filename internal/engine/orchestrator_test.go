package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/detect"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

type fakeCollector struct {
	window detect.Window
	err    error
}

func (f *fakeCollector) Collect(ctx context.Context) (detect.Window, error) {
	return f.window, f.err
}

type fakeDetector struct {
	result detect.Result
	err    error
}

func (f *fakeDetector) Detect(ctx context.Context, window detect.Window) (detect.Result, error) {
	return f.result, f.err
}

type fakeExtractor struct {
	patterns []models.Pattern
	err      error
	calls    int
}

func (f *fakeExtractor) Extract(ctx context.Context, records []models.AnomalyRecord) ([]models.Pattern, error) {
	f.calls++
	return f.patterns, f.err
}

type fakeSynthesizer struct {
	specs    []models.ScannerSpec
	err      error
	calls    int
	received []models.Pattern
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, patterns []models.Pattern) ([]models.ScannerSpec, models.ScannerManifest, error) {
	f.calls++
	f.received = patterns
	return f.specs, models.ScannerManifest{}, f.err
}

type fakeRunner struct {
	results []models.ScanResult
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, specs []models.ScannerSpec) []models.ScanResult {
	f.calls++
	return f.results
}

type fakeAssessor struct {
	assessment models.RiskAssessment
	calls      int
}

func (f *fakeAssessor) Assess(results []models.ScanResult) models.RiskAssessment {
	f.calls++
	return f.assessment
}

func sampleWindow() detect.Window {
	return detect.Window{System: []models.MetricSample{
		{Timestamp: time.Now(), Scope: models.ScopeSystem, Values: map[string]float64{"cpu_percent": 95}},
	}}
}

type fakeLibrary struct {
	patterns []models.Pattern
	err      error
}

func (f *fakeLibrary) LoadPatterns(ctx context.Context) ([]models.Pattern, error) {
	return f.patterns, f.err
}

func newTestOrchestrator(c *fakeCollector, d *fakeDetector, e *fakeExtractor, s *fakeSynthesizer, r *fakeRunner, a *fakeAssessor) *Orchestrator {
	return NewOrchestrator(nil, c, d, e, s, r, a, nil, nil, "")
}

func TestRunFullPipeline(t *testing.T) {
	anomaly := models.AnomalyRecord{ID: "a1", Service: "system", Kind: models.AnomalySystem}
	extractor := &fakeExtractor{patterns: []models.Pattern{{ID: "p1", Service: "system"}}}
	synthesizer := &fakeSynthesizer{specs: []models.ScannerSpec{{ID: "scanner-system", Service: "system"}}}
	runner := &fakeRunner{results: []models.ScanResult{{ScannerID: "scanner-system", Service: "system", Success: true}}}
	assessor := &fakeAssessor{assessment: models.RiskAssessment{Probability: 42, Level: models.RiskMedium}}

	o := newTestOrchestrator(
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{result: detect.Result{Anomalies: []models.AnomalyRecord{anomaly}}},
		extractor, synthesizer, runner, assessor,
	)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.OverallSuccess {
		t.Fatalf("expected overall success: %+v", summary)
	}
	for _, stage := range []models.StageName{
		models.StageCollect, models.StageDetect, models.StageExtract,
		models.StageSynthesize, models.StageScan, models.StageAggregate,
	} {
		st, ok := summary.Stage(stage)
		if !ok {
			t.Fatalf("missing stage %s", stage)
		}
		if st.Status != models.StageSuccess {
			t.Fatalf("stage %s status=%s", stage, st.Status)
		}
	}
	if summary.Risk == nil || summary.Risk.Probability != 42 {
		t.Fatalf("risk not propagated: %+v", summary.Risk)
	}
	if assessor.calls != 1 || runner.calls != 1 {
		t.Fatalf("stages not executed exactly once")
	}
}

// A clean window with zero anomalies skips extraction and synthesis but
// still produces a risk assessment.
func TestRunSkipsDownstreamOnCleanWindow(t *testing.T) {
	extractor := &fakeExtractor{}
	synthesizer := &fakeSynthesizer{}
	runner := &fakeRunner{}
	assessor := &fakeAssessor{assessment: models.RiskAssessment{Level: models.RiskMinimal}}

	o := newTestOrchestrator(
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{result: detect.Result{}},
		extractor, synthesizer, runner, assessor,
	)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.OverallSuccess {
		t.Fatalf("clean window must still be a successful run")
	}
	for _, stage := range []models.StageName{models.StageExtract, models.StageSynthesize, models.StageScan} {
		st, _ := summary.Stage(stage)
		if st.Status != models.StageSkipped {
			t.Fatalf("stage %s status=%s, want skipped", stage, st.Status)
		}
	}
	if extractor.calls != 0 || synthesizer.calls != 0 || runner.calls != 0 {
		t.Fatalf("skipped stages must not execute")
	}
	if assessor.calls != 1 || summary.Risk == nil {
		t.Fatalf("aggregation must always run")
	}
}

// When a run extracts fresh patterns, synthesis must still compile the whole
// accumulated library so scanners learned in earlier runs are regenerated.
func TestRunSynthesizesOverStoredHistory(t *testing.T) {
	fresh := models.Pattern{ID: "p-new", Service: "system"}
	stored := []models.Pattern{
		{ID: "p-old-1", Service: "mysql"},
		{ID: "p-old-2", Service: "nginx"},
		fresh,
	}
	synthesizer := &fakeSynthesizer{specs: []models.ScannerSpec{{ID: "scanner-system"}}}

	o := NewOrchestrator(nil,
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{result: detect.Result{Anomalies: []models.AnomalyRecord{{ID: "a1"}}}},
		&fakeExtractor{patterns: []models.Pattern{fresh}},
		synthesizer,
		&fakeRunner{},
		&fakeAssessor{},
		&fakeLibrary{patterns: stored},
		nil, "")

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synthesizer.received) != 3 {
		t.Fatalf("synthesis saw %d patterns, want the full library of 3", len(synthesizer.received))
	}
}

func TestRunCollectFailureDegrades(t *testing.T) {
	assessor := &fakeAssessor{}
	o := newTestOrchestrator(
		&fakeCollector{err: errors.New("proc unavailable")},
		&fakeDetector{},
		&fakeExtractor{}, &fakeSynthesizer{}, &fakeRunner{}, assessor,
	)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("collect failure must not abort the run: %v", err)
	}
	if summary.OverallSuccess {
		t.Fatalf("a failed stage must clear overall success")
	}
	st, _ := summary.Stage(models.StageCollect)
	if st.Status != models.StageFailed {
		t.Fatalf("collect status=%s, want failed", st.Status)
	}
	if det, _ := summary.Stage(models.StageDetect); det.Status != models.StageSkipped {
		t.Fatalf("detect must be skipped on an empty window, got %s", det.Status)
	}
	if assessor.calls != 1 {
		t.Fatalf("aggregation must still run")
	}
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	persistErr := utils.NewAppError("patterns.extract", utils.KindPersistence, "save patterns", errors.New("disk full"))
	o := newTestOrchestrator(
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{result: detect.Result{Anomalies: []models.AnomalyRecord{{ID: "a1"}}}},
		&fakeExtractor{err: persistErr},
		&fakeSynthesizer{}, &fakeRunner{}, &fakeAssessor{},
	)

	summary, err := o.Run(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	st, ok := summary.Stage(models.StageExtract)
	if !ok || st.Status != models.StageFailed {
		t.Fatalf("extract must be recorded as failed: %+v", summary.Stages)
	}
	if _, ok := summary.Stage(models.StageAggregate); ok {
		t.Fatalf("aborted run must not aggregate")
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{}, &fakeExtractor{}, &fakeSynthesizer{}, &fakeRunner{}, &fakeAssessor{},
	)
	if _, err := o.Run(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestStatusFileTracksRuns(t *testing.T) {
	status, err := NewStatusFile(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o := NewOrchestrator(nil,
		&fakeCollector{window: sampleWindow()},
		&fakeDetector{result: detect.Result{Anomalies: []models.AnomalyRecord{{ID: "a1"}}}},
		&fakeExtractor{patterns: []models.Pattern{{ID: "p1"}}},
		&fakeSynthesizer{specs: []models.ScannerSpec{{ID: "s1"}}},
		&fakeRunner{results: []models.ScanResult{{ScannerID: "s1", Success: true}}},
		&fakeAssessor{assessment: models.RiskAssessment{Probability: 30, Level: models.RiskLow}},
		nil, status, "")

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := status.Load()
	if err != nil {
		t.Fatalf("load status: %v", err)
	}
	if !got.Initialized || !got.LastOverallSuccess {
		t.Fatalf("status not recorded: %+v", got)
	}
	if got.TotalPatterns != 1 || got.TotalScanners != 1 {
		t.Fatalf("counters not recorded: %+v", got)
	}
	if got.LastRiskProbability != 30 || got.LastRiskLevel != models.RiskLow {
		t.Fatalf("risk not recorded: %+v", got)
	}
}
