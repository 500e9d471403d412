package patterns

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
)

type fakeStore struct {
	saved []models.Pattern
}

func (f *fakeStore) SavePatterns(ctx context.Context, patterns []models.Pattern) error {
	f.saved = append(f.saved, patterns...)
	return nil
}

func (f *fakeStore) LoadPatterns(ctx context.Context) ([]models.Pattern, error) {
	return f.saved, nil
}

func (f *fakeStore) Close() error { return nil }

func testExtractConfig() config.ExtractConfig {
	return config.ExtractConfig{
		MinAnomalies:     2,
		ShapeMinFraction: 0.10,
		ShapeMinCount:    2,
		MaxKeywords:      10,
		MaxShapes:        5,
		DomainFloors: map[string]float64{
			"cpu_percent":    80,
			"memory_percent": 75,
		},
	}
}

func metricRecord(service string, ts time.Time, cpu float64) models.AnomalyRecord {
	return models.AnomalyRecord{
		ID:        "m-" + ts.Format(time.RFC3339Nano),
		Timestamp: ts,
		Kind:      models.AnomalySystem,
		Service:   service,
		Metrics:   map[string]float64{"cpu_percent": cpu, "memory_percent": 88},
		Baseline: map[string]models.MetricStats{
			"cpu_percent":    {Mean: 45, Std: 35.36, Min: 20, Max: 95, Samples: 12},
			"memory_percent": {Mean: 50, Std: 30, Min: 30, Max: 90, Samples: 12},
		},
		Severity: models.SeverityMedium,
	}
}

func TestExtractMetricPattern(t *testing.T) {
	store := &fakeStore{}
	e := NewExtractor(nil, testExtractConfig(), store)

	now := time.Now()
	records := []models.AnomalyRecord{
		metricRecord("system", now, 95),
		metricRecord("system", now.Add(time.Minute), 96),
		metricRecord("system", now.Add(2*time.Minute), 94),
	}

	patterns, err := e.Extract(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.Kind != models.PatternMetric || p.Service != "system" {
		t.Fatalf("unexpected pattern: kind=%s service=%s", p.Kind, p.Service)
	}
	if p.SampleCount != 3 {
		t.Fatalf("sample count=%d, want 3", p.SampleCount)
	}
	if p.Metrics["cpu_percent"].Mean < 94 || p.Metrics["cpu_percent"].Mean > 96 {
		t.Fatalf("anomalous cpu mean out of range: %v", p.Metrics["cpu_percent"].Mean)
	}
	if p.Baseline["cpu_percent"].Samples != 12 {
		t.Fatalf("baseline must carry the full window, got %d samples", p.Baseline["cpu_percent"].Samples)
	}
	if p.Temporal == nil || p.Temporal.AvgIntervalMinutes != 1 {
		t.Fatalf("unexpected temporal profile: %+v", p.Temporal)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected pattern persisted, got %d", len(store.saved))
	}
}

func TestExtractBelowMinimumYieldsNothing(t *testing.T) {
	e := NewExtractor(nil, testExtractConfig(), nil)
	patterns, err := e.Extract(context.Background(), []models.AnomalyRecord{
		metricRecord("system", time.Now(), 95),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("one outlier must not become a pattern, got %d", len(patterns))
	}
}

func TestExtractLogAndCompositePatterns(t *testing.T) {
	e := NewExtractor(nil, testExtractConfig(), nil)

	now := time.Now()
	records := []models.AnomalyRecord{
		metricRecord("mysql", now, 95),
		metricRecord("mysql", now.Add(time.Minute), 93),
		{
			ID:            "log-1",
			Timestamp:     now,
			Kind:          models.AnomalyLog,
			Service:       "mysql",
			ErrorCount:    15,
			CriticalCount: 2,
			TotalLines:    100,
			Messages: []string{
				"ERROR 1040: connection failed from 10.0.0.5",
				"ERROR 1040: connection failed from 10.0.0.9",
				"FATAL: table corruption detected in /var/lib/mysql/orders",
			},
			Severity: models.SeverityHigh,
		},
	}

	patterns, err := e.Extract(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 3 {
		t.Fatalf("expected metric+log+composite, got %d patterns", len(patterns))
	}

	var logPat, composite *models.Pattern
	for i := range patterns {
		switch patterns[i].Kind {
		case models.PatternLog:
			logPat = &patterns[i]
		case models.PatternComposite:
			composite = &patterns[i]
		}
	}
	if logPat == nil || composite == nil {
		t.Fatalf("missing log or composite pattern")
	}

	if logPat.ErrorRate != 0.17 {
		t.Fatalf("error rate=%v, want 0.17", logPat.ErrorRate)
	}
	wantKeywords := map[string]bool{"error": false, "fatal": false, "failed": false}
	for _, kw := range logPat.Keywords {
		if _, ok := wantKeywords[kw.Keyword]; ok {
			wantKeywords[kw.Keyword] = true
		}
	}
	for kw, found := range wantKeywords {
		if !found {
			t.Fatalf("expected keyword %q in %v", kw, logPat.Keywords)
		}
	}

	// A 17% error rate tiers to medium, matching the metric side.
	if composite.Severity != models.SeverityMedium {
		t.Fatalf("composite severity=%s, want medium", composite.Severity)
	}
	// Baseline mean+std is 80.36, above the 80 floor.
	cpu := composite.Thresholds["cpu_percent"]
	if cpu < 80.3 || cpu > 80.4 {
		t.Fatalf("cpu threshold=%v, want baseline mean+std", cpu)
	}
	// Baseline mean+std for memory is 80; the 75 floor must not raise it.
	if composite.Thresholds["memory_percent"] != 80 {
		t.Fatalf("memory threshold=%v, want 80", composite.Thresholds["memory_percent"])
	}
	if composite.Confidence > 0.95 {
		t.Fatalf("confidence must be capped at 0.95, got %v", composite.Confidence)
	}

	hasLogRule := false
	for _, r := range composite.Rules {
		if r.Type == models.RuleLogPattern && r.Pattern != "" {
			hasLogRule = true
		}
	}
	if !hasLogRule {
		t.Fatalf("composite must carry a log pattern rule: %+v", composite.Rules)
	}
}

// A log side drowning in errors must be able to lift the composite to
// critical even though individual log records top out at high.
func TestCompositeSeverityFollowsErrorRate(t *testing.T) {
	e := NewExtractor(nil, testExtractConfig(), nil)

	now := time.Now()
	records := []models.AnomalyRecord{
		metricRecord("mysql", now, 95),
		metricRecord("mysql", now.Add(time.Minute), 93),
		{
			ID:         "log-1",
			Timestamp:  now,
			Kind:       models.AnomalyLog,
			Service:    "mysql",
			ErrorCount: 60,
			TotalLines: 100,
			Messages:   []string{"ERROR disk write failed"},
			Severity:   models.SeverityHigh,
		},
	}

	patterns, err := e.Extract(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var composite *models.Pattern
	for i := range patterns {
		if patterns[i].Kind == models.PatternComposite {
			composite = &patterns[i]
		}
	}
	if composite == nil {
		t.Fatalf("missing composite pattern")
	}
	if composite.Severity != models.SeverityCritical {
		t.Fatalf("composite severity=%s, want critical at a 60%% error rate", composite.Severity)
	}
}

func TestTemporalProfileTopPeakHours(t *testing.T) {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var records []models.AnomalyRecord
	add := func(hour, n int) {
		for i := 0; i < n; i++ {
			records = append(records, models.AnomalyRecord{
				Timestamp: base.Add(time.Duration(hour)*time.Hour + time.Duration(i)*time.Minute),
			})
		}
	}
	add(9, 3)
	add(14, 2)
	add(3, 1)
	add(22, 1)

	profile := temporalProfile(records)
	want := []int{9, 14, 3}
	if !reflect.DeepEqual(profile.PeakHours, want) {
		t.Fatalf("peak hours=%v, want %v", profile.PeakHours, want)
	}
}

func TestNormalizeShape(t *testing.T) {
	got := normalizeShape("ERROR 1040: connection failed from 10.0.0.5 at /var/lib/mysql/orders")
	want := "ERROR NUM: connection failed from IP at /PATH/"
	if got != want {
		t.Fatalf("shape=%q, want %q", got, want)
	}
}

func TestFileStoreAppendIsIdempotent(t *testing.T) {
	store, err := NewFileStore(nil, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batch := []models.Pattern{
		{ID: "p1", Kind: models.PatternMetric, Service: "system"},
		{ID: "p2", Kind: models.PatternLog, Service: "mysql"},
	}
	ctx := context.Background()
	if err := store.SavePatterns(ctx, batch); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SavePatterns(ctx, batch); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("duplicate save must not grow the library: got %d", len(loaded))
	}

	summary := Summarize(loaded)
	if summary.Total != 2 || summary.Metric != 1 || summary.Log != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Services) != 2 {
		t.Fatalf("expected 2 services, got %v", summary.Services)
	}
}

// Saving two batches must end in the same library regardless of order, even
// when the batches overlap.
func TestFileStoreMergeIsCommutative(t *testing.T) {
	batchA := []models.Pattern{
		{ID: "a1", Kind: models.PatternMetric, Service: "system"},
		{ID: "shared", Kind: models.PatternLog, Service: "mysql"},
	}
	batchB := []models.Pattern{
		{ID: "b1", Kind: models.PatternComposite, Service: "mysql"},
		{ID: "shared", Kind: models.PatternLog, Service: "mysql"},
	}

	ctx := context.Background()
	ids := func(batches ...[]models.Pattern) []string {
		store, err := NewFileStore(nil, t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, b := range batches {
			if err := store.SavePatterns(ctx, b); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		loaded, err := store.LoadPatterns(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		out := make([]string, len(loaded))
		for i, p := range loaded {
			out[i] = p.ID
		}
		sort.Strings(out)
		return out
	}

	ab := ids(batchA, batchB)
	ba := ids(batchB, batchA)
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge order changed the library: %v vs %v", ab, ba)
	}
	if len(ab) != 3 {
		t.Fatalf("expected 3 distinct patterns, got %v", ab)
	}
}
