package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

func TestWindowFilePrunesOldSamples(t *testing.T) {
	w, err := newWindowFile(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now().UTC()
	old := models.MetricSample{Timestamp: now.Add(-48 * time.Hour), Scope: models.ScopeSystem, Values: map[string]float64{"cpu_percent": 10}}
	cutoff := now.Add(-24 * time.Hour)

	if _, err := w.append(old, nil, cutoff.Add(-72*time.Hour)); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	fresh := models.MetricSample{Timestamp: now, Scope: models.ScopeSystem, Values: map[string]float64{"cpu_percent": 20}}
	window, err := w.append(fresh, nil, cutoff)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(window.System) != 1 {
		t.Fatalf("expected old sample pruned, got %d samples", len(window.System))
	}
	if window.System[0].Values["cpu_percent"] != 20 {
		t.Fatalf("wrong sample retained: %+v", window.System[0])
	}
}

func TestWindowFileSurvivesCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := newWindowFile(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, windowFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	now := time.Now().UTC()
	sample := models.MetricSample{Timestamp: now, Scope: models.ScopeSystem, Values: map[string]float64{"cpu_percent": 5}}
	window, err := w.append(sample, nil, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("append over corrupt window: %v", err)
	}
	if len(window.System) != 1 {
		t.Fatalf("expected fresh window, got %d samples", len(window.System))
	}
}

func TestSummarizeLogs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.log")
	content := "started ok\n" +
		"ERROR connection refused\n" +
		"WARNING disk filling up\n" +
		"FATAL data corruption\n" +
		"request served\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	summary, ok := summarizeLogs("svc", []string{path, filepath.Join(dir, "missing.log")}, time.Now())
	if !ok {
		t.Fatalf("expected a readable summary")
	}
	if summary.TotalLines != 5 {
		t.Fatalf("total lines=%d, want 5", summary.TotalLines)
	}
	if summary.ErrorCount != 1 || summary.CriticalCount != 1 || summary.WarningCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(summary.Messages) != 2 {
		t.Fatalf("expected error and critical lines sampled, got %v", summary.Messages)
	}
}

func TestSummarizeLogsUnreadable(t *testing.T) {
	_, ok := summarizeLogs("ghost", []string{filepath.Join(t.TempDir(), "none.log")}, time.Now())
	if ok {
		t.Fatalf("unreadable paths must yield no summary")
	}
}

func TestCollectClassifiesSnapshotFailure(t *testing.T) {
	c, err := New(nil, config.DataConfig{Dir: t.TempDir(), WindowHours: 24})
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Collect(ctx)
	if !utils.IsKind(err, utils.KindDataUnavailable) {
		t.Fatalf("expected a data_unavailable error, got %v", err)
	}
}

func TestClassifyLine(t *testing.T) {
	cases := map[string]models.Severity{
		"PANIC: out of memory":       models.SeverityCritical,
		"error: timeout on upstream": models.SeverityHigh,
		"request failed with 502":    models.SeverityHigh,
		"warn: slow query":           models.SeverityLow,
		"GET /health 200":            "",
	}
	for line, want := range cases {
		if got := classifyLine(line); got != want {
			t.Fatalf("classifyLine(%q)=%q, want %q", line, got, want)
		}
	}
}

func TestMatchKeyService(t *testing.T) {
	services := []string{"nginx", "mysql", "redis"}
	cases := map[string]string{
		"mysqld":       "mysql",
		"nginx":        "nginx",
		"redis-server": "redis",
		"chrome":       "",
	}
	for comm, want := range cases {
		if got := matchKeyService(comm, services); got != want {
			t.Fatalf("matchKeyService(%q)=%q, want %q", comm, got, want)
		}
	}
}
