package models

import "time"

// RuleType tags the Rule union.
type RuleType string

const (
	RuleThreshold  RuleType = "threshold"
	RuleComposite  RuleType = "composite"
	RuleLogPattern RuleType = "log_pattern"
)

// Rule is a serialisable detection rule. Exactly one variant is populated,
// selected by Type: threshold rules compare a live metric against a value,
// composite rules combine child rules with AND/OR logic, and log pattern
// rules match a regular expression against tailed log lines.
type Rule struct {
	Type        RuleType `json:"type"`
	Name        string   `json:"name,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`

	// Threshold variant.
	Metric   string  `json:"metric,omitempty"`
	Operator string  `json:"operator,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Weight   float64 `json:"weight,omitempty"`

	// Composite variant.
	Logic      string `json:"logic,omitempty"`
	Conditions []Rule `json:"conditions,omitempty"`

	// Log pattern variant.
	Pattern string `json:"pattern,omitempty"`
}

// ScannerSpec is the self-contained artifact compiled from a service's
// patterns. Everything a scan needs is baked in: no model, store or network
// access happens at execution time.
type ScannerSpec struct {
	ID               string             `json:"id"`
	Service          string             `json:"service"`
	GeneratedAt      time.Time          `json:"generated_at"`
	SourcePatternIDs []string           `json:"source_pattern_ids"`
	Severity         Severity           `json:"severity"`
	Confidence       float64            `json:"confidence"`
	Thresholds       map[string]float64 `json:"thresholds"`
	Keywords         []string           `json:"keywords"`
	Rules            []Rule             `json:"rules"`
	LogPaths         []string           `json:"log_paths"`
}

// ManifestEntry indexes one generated scanner artifact.
type ManifestEntry struct {
	ID         string   `json:"id"`
	Service    string   `json:"service"`
	File       string   `json:"file"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
}

// ScannerManifest enumerates all generated scanners for batch execution.
type ScannerManifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Scanners    []ManifestEntry `json:"scanners"`
}

// ScanAnomaly is one finding reported by an executing scanner.
type ScanAnomaly struct {
	Type         string   `json:"type"`
	Metric       string   `json:"metric,omitempty"`
	Rule         string   `json:"rule,omitempty"`
	CurrentValue float64  `json:"current_value,omitempty"`
	Threshold    float64  `json:"threshold,omitempty"`
	Keyword      string   `json:"keyword,omitempty"`
	Line         string   `json:"line,omitempty"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
}

// ScanResult is the bounded outcome of one scanner execution.
type ScanResult struct {
	ScannerID       string           `json:"scanner_id"`
	Service         string           `json:"service"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Anomalies       []ScanAnomaly    `json:"anomalies"`
	TotalAnomalies  int              `json:"total_anomalies"`
	SeverityScore   float64          `json:"severity_score"`
	SeverityCounts  map[Severity]int `json:"severity_counts"`
	PatternMatches  int              `json:"pattern_matches"`
	Recommendations []string         `json:"recommendations,omitempty"`
}
