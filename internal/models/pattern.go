package models

import "time"

// PatternKind distinguishes the three pattern families the extractor emits.
type PatternKind string

const (
	PatternMetric    PatternKind = "metric"
	PatternLog       PatternKind = "log"
	PatternComposite PatternKind = "composite"
)

// Pattern is a statistically derived, reusable description of "anomalous"
// for one service. Patterns are append-only: extraction runs add new ones
// and never rewrite what a previous run stored.
type Pattern struct {
	ID          string      `json:"id"`
	Kind        PatternKind `json:"kind"`
	Service     string      `json:"service"`
	ExtractedAt time.Time   `json:"extracted_at"`
	SampleCount int         `json:"sample_count"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`

	// Metric fields: statistics over the anomalous samples plus the
	// full-window baseline carried from detection.
	Metrics  map[string]MetricStats `json:"metrics,omitempty"`
	Baseline map[string]MetricStats `json:"baseline,omitempty"`
	Temporal *TemporalProfile       `json:"temporal,omitempty"`

	// Log fields.
	Keywords   []KeywordCount `json:"keywords,omitempty"`
	Shapes     []MessageShape `json:"shapes,omitempty"`
	ErrorCount int            `json:"error_count,omitempty"`
	ErrorRate  float64        `json:"error_rate,omitempty"`

	// Composite fields: fused thresholds and weighted rules.
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
	Rules      []Rule             `json:"rules,omitempty"`
}

// TemporalProfile describes when a service's anomalies tend to occur.
type TemporalProfile struct {
	TimeSpanHours      float64 `json:"time_span_hours"`
	AvgIntervalMinutes float64 `json:"avg_interval_minutes"`
	HourHistogram      [24]int `json:"hour_histogram"`
	PeakHours          []int   `json:"peak_hours"`
}

// KeywordCount pairs a lexicon keyword with its observed frequency.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// MessageShape is a normalised log message template and how often it repeats.
type MessageShape struct {
	Shape    string  `json:"shape"`
	Count    int     `json:"count"`
	Fraction float64 `json:"fraction"`
}

// PatternSummary is the recomputed union view over a pattern store.
type PatternSummary struct {
	Total     int      `json:"total"`
	Metric    int      `json:"metric"`
	Log       int      `json:"log"`
	Composite int      `json:"composite"`
	Services  []string `json:"services"`
}
