package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
)

// Factor weights for the aggregate probability. Each factor is on a 0-100
// scale before weighting, so the weighted sum stays within 0-100.
const (
	weightPatternMatch  = 0.4
	weightHistorical    = 0.3
	weightServiceImport = 0.2
	weightEnvironmental = 0.1
)

// Aggregator folds a batch of scan results into one bounded risk assessment.
type Aggregator struct {
	logger   *slog.Logger
	critical map[string]struct{}
}

// NewAggregator builds an aggregator over the configured critical services.
func NewAggregator(logger *slog.Logger, cfg config.RiskConfig) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	critical := make(map[string]struct{}, len(cfg.CriticalServices))
	for _, svc := range cfg.CriticalServices {
		critical[svc] = struct{}{}
	}
	return &Aggregator{logger: logger, critical: critical}
}

// Assess computes the weighted risk probability over one scan batch. An
// empty batch yields a zero assessment at the minimal level.
func (a *Aggregator) Assess(results []models.ScanResult) models.RiskAssessment {
	assessment := models.RiskAssessment{
		AssessedAt: time.Now().UTC(),
		TotalScans: len(results),
	}
	if len(results) == 0 {
		assessment.Level = models.RiskMinimal
		assessment.Summary = "no scanners executed"
		return assessment
	}

	totalAnomalies := 0
	criticalScanned := 0
	criticalAnomalous := 0
	patternSum := 0.0
	succeeded := 0
	worst := models.Severity("")
	for _, res := range results {
		assessment.Services = append(assessment.Services, serviceRisk(res))
		// Importance weighs every critical service in scope, whether or
		// not its scanner succeeded or found anything.
		if _, ok := a.critical[res.Service]; ok {
			criticalScanned++
			if res.Success && res.TotalAnomalies > 0 {
				criticalAnomalous++
			}
		}
		if !res.Success {
			continue
		}
		succeeded++
		totalAnomalies += res.TotalAnomalies
		patternSum += res.SeverityScore * 10
		if res.TotalAnomalies > 0 {
			worst = models.MaxSeverity(worst, worstSeverity(res))
		}
	}
	sort.Slice(assessment.Services, func(i, j int) bool {
		return assessment.Services[i].Service < assessment.Services[j].Service
	})

	factors := models.RiskFactors{}
	// Average severity pressure over the scanners that actually ran.
	if succeeded > 0 {
		factors.PatternMatchScore = math.Min(100, patternSum/float64(succeeded))
		factors.EnvironmentalFactor = float64(succeeded) / float64(len(results)) * 100
	}
	factors.HistoricalFrequency = math.Min(100, float64(totalAnomalies)*10)
	factors.ServiceImportance = math.Min(100, float64(criticalScanned)*25)

	probability := weightPatternMatch*factors.PatternMatchScore +
		weightHistorical*factors.HistoricalFrequency +
		weightServiceImport*factors.ServiceImportance +
		weightEnvironmental*factors.EnvironmentalFactor
	probability = math.Max(0, math.Min(100, probability))

	assessment.Probability = probability
	assessment.Level = LevelFor(probability)
	assessment.Factors = factors
	assessment.SuccessfulScans = succeeded
	assessment.TotalAnomalies = totalAnomalies
	assessment.Recommendations = a.recommend(assessment.Level, worst, totalAnomalies, criticalAnomalous, len(results)-succeeded)
	assessment.Summary = fmt.Sprintf("%d/%d scanners succeeded, %d anomalies, risk %.1f (%s)",
		succeeded, len(results), totalAnomalies, probability, assessment.Level)

	a.logger.Info("risk assessed",
		"probability", probability, "level", assessment.Level,
		"anomalies", totalAnomalies, "critical_services", criticalScanned)
	return assessment
}

// LevelFor buckets a probability. Boundary values stay in the lower tier:
// 20 is still minimal, 80 is still high.
func LevelFor(probability float64) models.RiskLevel {
	switch {
	case probability > 80:
		return models.RiskCritical
	case probability > 60:
		return models.RiskHigh
	case probability > 40:
		return models.RiskMedium
	case probability > 20:
		return models.RiskLow
	}
	return models.RiskMinimal
}

func serviceRisk(res models.ScanResult) models.ServiceRisk {
	status := "ok"
	if !res.Success {
		status = "failed"
	} else if res.TotalAnomalies > 0 {
		status = "anomalous"
	}
	return models.ServiceRisk{
		Service:        res.Service,
		Status:         status,
		SeverityScore:  res.SeverityScore,
		Severity:       worstSeverity(res),
		TotalAnomalies: res.TotalAnomalies,
	}
}

func worstSeverity(res models.ScanResult) models.Severity {
	worst := models.Severity("")
	for sev := range res.SeverityCounts {
		if res.SeverityCounts[sev] > 0 {
			worst = models.MaxSeverity(worst, sev)
		}
	}
	return worst
}

func (a *Aggregator) recommend(level models.RiskLevel, worst models.Severity, anomalies, criticalHits, failed int) []string {
	var recs []string
	switch level {
	case models.RiskCritical:
		recs = append(recs, "investigate immediately: anomaly pressure is at critical levels")
	case models.RiskHigh:
		recs = append(recs, "schedule an investigation: multiple scanners are reporting anomalies")
	case models.RiskMedium:
		recs = append(recs, "review recent anomalies and confirm service health")
	}
	if criticalHits > 0 {
		recs = append(recs, fmt.Sprintf("anomalies touch %d critical service(s); prioritise those", criticalHits))
	}
	if worst == models.SeverityCritical || worst == models.SeverityHigh {
		recs = append(recs, "high-severity findings present; check the per-service breakdown")
	}
	if failed > 0 {
		recs = append(recs, fmt.Sprintf("%d scanner(s) failed to complete; verify scanner health", failed))
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required; continue routine monitoring")
	}
	return recs
}
