package models

import "time"

// RiskLevel buckets the 0-100 risk probability.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactors breaks the aggregate probability into its weighted terms.
// Each term is on a 0-100 scale before weighting.
type RiskFactors struct {
	PatternMatchScore   float64 `json:"pattern_match_score"`
	HistoricalFrequency float64 `json:"historical_frequency"`
	ServiceImportance   float64 `json:"service_importance"`
	EnvironmentalFactor float64 `json:"environmental_factor"`
}

// ServiceRisk is the per-service slice of an assessment.
type ServiceRisk struct {
	Service        string   `json:"service"`
	Status         string   `json:"status"`
	SeverityScore  float64  `json:"severity_score"`
	Severity       Severity `json:"severity"`
	TotalAnomalies int      `json:"total_anomalies"`
}

// RiskAssessment is the aggregate view over one batch of scan results.
type RiskAssessment struct {
	Probability     float64       `json:"probability"`
	Level           RiskLevel     `json:"level"`
	Factors         RiskFactors   `json:"factors"`
	Services        []ServiceRisk `json:"services"`
	Recommendations []string      `json:"recommendations"`
	Summary         string        `json:"summary"`
	TotalScans      int           `json:"total_scans"`
	SuccessfulScans int           `json:"successful_scans"`
	TotalAnomalies  int           `json:"total_anomalies"`
	AssessedAt      time.Time     `json:"assessed_at"`
}
