package risk

import (
	"math"
	"testing"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
)

func testAggregator() *Aggregator {
	return NewAggregator(nil, config.RiskConfig{
		CriticalServices: []string{"mysql", "nginx", "system"},
	})
}

func TestAssessEmptyBatch(t *testing.T) {
	a := testAggregator()
	got := a.Assess(nil)
	if got.Probability != 0 || got.Level != models.RiskMinimal {
		t.Fatalf("empty batch must be minimal, got %v (%s)", got.Probability, got.Level)
	}
}

func TestAssessWeightedFormula(t *testing.T) {
	a := testAggregator()
	results := []models.ScanResult{
		{
			Service: "mysql", Success: true,
			TotalAnomalies: 3, SeverityScore: 8,
			SeverityCounts: map[models.Severity]int{models.SeverityHigh: 1, models.SeverityLow: 1},
		},
		{
			Service: "app", Success: true,
			TotalAnomalies: 1, SeverityScore: 4,
			SeverityCounts: map[models.Severity]int{models.SeverityMedium: 1},
		},
		{Service: "web", Success: false, Error: "timeout"},
	}

	got := a.Assess(results)

	// pattern match: mean of 80 and 40 over the 2 successful scans = 60
	// historical: min(4*10, 100) = 40
	// importance: one critical service in scope = 25
	// environmental: 2/3 succeeded = 66.67
	want := 0.4*60 + 0.3*40 + 0.2*25 + 0.1*(200.0/3.0)
	if math.Abs(got.Probability-want) > 1e-9 {
		t.Fatalf("probability=%v, want %v", got.Probability, want)
	}
	if got.Factors.PatternMatchScore != 60 {
		t.Fatalf("pattern match factor=%v, want 60", got.Factors.PatternMatchScore)
	}
	if got.SuccessfulScans != 2 || got.TotalAnomalies != 4 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if len(got.Services) != 3 {
		t.Fatalf("expected 3 service entries, got %d", len(got.Services))
	}
	if got.Services[0].Service != "app" {
		t.Fatalf("services must be sorted: %+v", got.Services)
	}
	if len(got.Recommendations) == 0 {
		t.Fatalf("expected recommendations")
	}
}

func TestAssessProbabilityBounded(t *testing.T) {
	a := testAggregator()
	results := []models.ScanResult{
		{
			Service: "mysql", Success: true,
			TotalAnomalies: 500, SeverityScore: 10,
			SeverityCounts: map[models.Severity]int{models.SeverityCritical: 10},
		},
		{
			Service: "nginx", Success: true,
			TotalAnomalies: 500, SeverityScore: 10,
			SeverityCounts: map[models.Severity]int{models.SeverityCritical: 10},
		},
	}
	got := a.Assess(results)
	if got.Probability < 0 || got.Probability > 100 {
		t.Fatalf("probability out of range: %v", got.Probability)
	}
	if got.Level != models.RiskCritical {
		t.Fatalf("expected critical level, got %s", got.Level)
	}
}

func TestLevelBoundariesStayInLowerTier(t *testing.T) {
	cases := []struct {
		probability float64
		want        models.RiskLevel
	}{
		{0, models.RiskMinimal},
		{20, models.RiskMinimal},
		{20.001, models.RiskLow},
		{40, models.RiskLow},
		{40.001, models.RiskMedium},
		{60, models.RiskMedium},
		{60.001, models.RiskHigh},
		{80, models.RiskHigh},
		{80.001, models.RiskCritical},
		{100, models.RiskCritical},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.probability); got != tc.want {
			t.Fatalf("LevelFor(%v)=%s, want %s", tc.probability, got, tc.want)
		}
	}
}

// Critical services contribute importance by being in scope at all, not
// only when their scanner succeeds and finds something.
func TestAssessCountsCriticalServicePresence(t *testing.T) {
	a := testAggregator()
	results := []models.ScanResult{
		{Service: "mysql", Success: true},
		{Service: "nginx", Success: false, Error: "timeout"},
		{Service: "app", Success: true},
	}
	got := a.Assess(results)
	if got.Factors.ServiceImportance != 50 {
		t.Fatalf("service importance=%v, want 50", got.Factors.ServiceImportance)
	}
}

func TestAssessFailuresOnlyDepressEnvironmentalFactor(t *testing.T) {
	a := testAggregator()
	results := []models.ScanResult{
		{Service: "a", Success: false, Error: "crash"},
		{Service: "b", Success: false, Error: "timeout"},
	}
	got := a.Assess(results)
	if got.Factors.EnvironmentalFactor != 0 {
		t.Fatalf("environmental factor=%v, want 0", got.Factors.EnvironmentalFactor)
	}
	if got.Factors.PatternMatchScore != 0 || got.Factors.HistoricalFrequency != 0 {
		t.Fatalf("failed scans must not contribute anomaly factors: %+v", got.Factors)
	}
	if got.SuccessfulScans != 0 {
		t.Fatalf("successful scans=%d, want 0", got.SuccessfulScans)
	}
}
