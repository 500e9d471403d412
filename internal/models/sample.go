package models

import "time"

// Scope identifies which level of the host a metric snapshot describes.
type Scope string

const (
	ScopeSystem  Scope = "system"
	ScopeProcess Scope = "process"
	ScopeService Scope = "service"
)

// MetricSample is one timestamped snapshot of named metric values.
// Samples are ephemeral: they only live inside the current detection window.
type MetricSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Scope     Scope              `json:"scope"`
	Name      string             `json:"name,omitempty"`
	PID       int                `json:"pid,omitempty"`
	Values    map[string]float64 `json:"values"`
}

// LogSummary is the pre-aggregated per-service log digest supplied by the
// log collector: level counts plus a bounded sample of error messages.
type LogSummary struct {
	Service       string    `json:"service"`
	ErrorCount    int       `json:"error_count"`
	CriticalCount int       `json:"critical_count"`
	WarningCount  int       `json:"warning_count"`
	TotalLines    int       `json:"total_lines"`
	Messages      []string  `json:"messages,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// MetricStats summarises a series of values for one metric.
type MetricStats struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
	Samples int     `json:"samples"`
}
