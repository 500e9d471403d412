package models

import "time"

// AnomalyKind enumerates the signal category an anomaly was detected in.
type AnomalyKind string

const (
	AnomalySystem  AnomalyKind = "system"
	AnomalyProcess AnomalyKind = "process"
	AnomalyLog     AnomalyKind = "log"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can take the maximum of two levels.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AnomalyRecord is one confirmed anomaly. Records are accumulated and never
// mutated; the pattern extractor consumes them in bulk.
type AnomalyRecord struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      AnomalyKind `json:"kind"`
	Service   string      `json:"service"`
	PID       int         `json:"pid,omitempty"`

	// Metrics holds the anomalous snapshot for system/process records.
	Metrics map[string]float64 `json:"metrics,omitempty"`
	// Baseline carries full-window statistics per metric so downstream
	// threshold derivation does not need the raw window again.
	Baseline map[string]MetricStats `json:"baseline,omitempty"`

	// Log counters and a bounded sample of offending lines, set for log
	// records only.
	ErrorCount    int      `json:"error_count,omitempty"`
	CriticalCount int      `json:"critical_count,omitempty"`
	TotalLines    int      `json:"total_lines,omitempty"`
	Messages      []string `json:"messages,omitempty"`

	Severity Severity `json:"severity"`
	// Votes maps model name to the anomaly score that model assigned.
	Votes map[string]float64 `json:"votes,omitempty"`
	// Badness is the averaged normalised anomaly score across voting models.
	Badness float64 `json:"badness"`
}
