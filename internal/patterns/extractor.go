package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// Extractor turns accumulated anomaly records into reusable patterns. It is
// pure computation plus one store append: the same records always produce
// patterns with the same statistics.
type Extractor struct {
	logger *slog.Logger
	cfg    config.ExtractConfig
	store  Store
}

// NewExtractor constructs an Extractor; store may be nil for dry runs.
func NewExtractor(logger *slog.Logger, cfg config.ExtractConfig, store Store) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, cfg: cfg, store: store}
}

// Extract groups records by service, derives metric, log and composite
// patterns, and appends them to the store. No records is not an error.
func (e *Extractor) Extract(ctx context.Context, records []models.AnomalyRecord) ([]models.Pattern, error) {
	if len(records) == 0 {
		return nil, nil
	}

	groups := groupByService(records)
	now := time.Now().UTC()

	var patterns []models.Pattern
	for _, g := range groups {
		var metricPattern, logPattern *models.Pattern
		if p := e.extractMetricPattern(g.service, g.metric, now); p != nil {
			metricPattern = p
			patterns = append(patterns, *p)
		}
		if p := e.extractLogPattern(g.service, g.logs, now); p != nil {
			logPattern = p
			patterns = append(patterns, *p)
		}
		if metricPattern != nil && logPattern != nil {
			patterns = append(patterns, e.fuseComposite(g.service, *metricPattern, *logPattern, now))
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Service != patterns[j].Service {
			return patterns[i].Service < patterns[j].Service
		}
		return patterns[i].Kind < patterns[j].Kind
	})

	if e.store != nil && len(patterns) > 0 {
		if err := e.store.SavePatterns(ctx, patterns); err != nil {
			return nil, utils.NewAppError("patterns.extract", utils.KindPersistence, "save patterns", err)
		}
	}

	e.logger.Info("pattern extraction complete",
		"records", len(records), "services", len(groups), "patterns", len(patterns))
	return patterns, nil
}

// extractMetricPattern summarises a service's metric anomalies. Groups below
// the minimum occurrence count yield nothing: a single outlier is noise, not
// a pattern.
func (e *Extractor) extractMetricPattern(service string, records []models.AnomalyRecord, now time.Time) *models.Pattern {
	if len(records) < e.cfg.MinAnomalies {
		return nil
	}

	series := make(map[string][]float64)
	severity := models.SeverityLow
	for _, r := range records {
		for name, v := range r.Metrics {
			series[name] = append(series[name], v)
		}
		severity = models.MaxSeverity(severity, r.Severity)
	}

	metrics := make(map[string]models.MetricStats, len(series))
	for name, values := range series {
		metrics[name] = models.ComputeStats(values)
	}

	return &models.Pattern{
		ID:          uuid.NewString(),
		Kind:        models.PatternMetric,
		Service:     service,
		ExtractedAt: now,
		SampleCount: len(records),
		Severity:    severity,
		Confidence:  math.Min(0.95, 0.5+0.05*float64(len(records))),
		Metrics:     metrics,
		Baseline:    mergeBaselines(records),
		Temporal:    temporalProfile(records),
	}
}

// extractLogPattern mines keywords and message shapes from a service's log
// anomalies. One log anomaly is already a pattern: the digest it came from
// covers many lines.
func (e *Extractor) extractLogPattern(service string, records []models.AnomalyRecord, now time.Time) *models.Pattern {
	if len(records) == 0 {
		return nil
	}

	var messages []string
	severity := models.SeverityLow
	errorCount, criticalCount, totalLines := 0, 0, 0
	for _, r := range records {
		messages = append(messages, r.Messages...)
		errorCount += r.ErrorCount
		criticalCount += r.CriticalCount
		totalLines += r.TotalLines
		severity = models.MaxSeverity(severity, r.Severity)
	}

	errorRate := 0.0
	if totalLines > 0 {
		errorRate = float64(errorCount+criticalCount) / float64(totalLines)
	}

	keywords := e.topKeywords(messages)
	// A critical-tier keyword in the sampled lines lifts the pattern to at
	// least high, mirroring how the log digest treats critical lines.
	for _, kw := range keywords {
		if keywordTier(kw.Keyword) == "critical" {
			severity = models.MaxSeverity(severity, models.SeverityHigh)
			break
		}
	}

	return &models.Pattern{
		ID:          uuid.NewString(),
		Kind:        models.PatternLog,
		Service:     service,
		ExtractedAt: now,
		SampleCount: len(records),
		Severity:    severity,
		Confidence:  math.Min(0.95, 0.5+0.02*float64(errorCount+criticalCount)),
		Keywords:    keywords,
		Shapes:      e.mineShapes(messages),
		ErrorCount:  errorCount + criticalCount,
		ErrorRate:   errorRate,
	}
}

// fuseComposite combines a service's metric and log patterns into a single
// rule-bearing pattern. Metric thresholds take the full-window mean plus one
// deviation, raised to the configured domain floor so quiet hosts do not
// compile trivially low trip points. Severity is the stronger of the metric
// side and a tier derived from the log error rate, so a host drowning in
// errors can reach critical even when no single log record does.
func (e *Extractor) fuseComposite(service string, metric, log models.Pattern, now time.Time) models.Pattern {
	thresholds := make(map[string]float64, len(metric.Baseline))
	for name, stats := range metric.Baseline {
		threshold := stats.Mean + stats.Std
		if floor, ok := e.cfg.DomainFloors[name]; ok && threshold < floor {
			threshold = floor
		}
		thresholds[name] = threshold
	}

	severity := models.MaxSeverity(metric.Severity, errorRateSeverity(log.ErrorRate))

	var rules []models.Rule
	metricNames := sortedKeys(thresholds)
	for _, name := range metricNames {
		rules = append(rules, models.Rule{
			Type:        models.RuleThreshold,
			Name:        name + "_threshold",
			Severity:    metric.Severity,
			Metric:      name,
			Operator:    ">",
			Value:       thresholds[name],
			Weight:      0.6,
			Description: fmt.Sprintf("%s above learned threshold", name),
		})
	}
	if kw := keywordRegex(log.Keywords); kw != "" {
		rules = append(rules, models.Rule{
			Type:        models.RuleLogPattern,
			Name:        "log_keywords",
			Severity:    log.Severity,
			Pattern:     kw,
			Weight:      0.4,
			Description: "recurring error keywords in recent log lines",
		})
	}

	sampleFactor := math.Min(1, float64(metric.SampleCount)/10)
	errorFactor := math.Min(1, float64(log.ErrorCount)/20)
	severityFactor := float64(severity.Rank()) / 4
	confidence := math.Min(0.95, (sampleFactor+errorFactor+severityFactor)/3)

	return models.Pattern{
		ID:          uuid.NewString(),
		Kind:        models.PatternComposite,
		Service:     service,
		ExtractedAt: now,
		SampleCount: metric.SampleCount + log.SampleCount,
		Severity:    severity,
		Confidence:  confidence,
		Baseline:    metric.Baseline,
		Keywords:    log.Keywords,
		Thresholds:  thresholds,
		Rules:       rules,
	}
}

// errorRateSeverity tiers a log error rate for composite fusion: above half
// the lines erroring is critical, above a fifth is high, anything else that
// reached fusion is medium.
func errorRateSeverity(rate float64) models.Severity {
	switch {
	case rate > 0.5:
		return models.SeverityCritical
	case rate > 0.2:
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func (e *Extractor) topKeywords(messages []string) []models.KeywordCount {
	counts := countKeywords(messages)
	out := make([]models.KeywordCount, 0, len(counts))
	for kw, c := range counts {
		out = append(out, models.KeywordCount{Keyword: kw, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > e.cfg.MaxKeywords {
		out = out[:e.cfg.MaxKeywords]
	}
	return out
}

// mineShapes keeps normalised message templates long enough to be meaningful
// and frequent enough to be recurring.
func (e *Extractor) mineShapes(messages []string) []models.MessageShape {
	if len(messages) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, msg := range messages {
		shape := normalizeShape(msg)
		if len(shape) <= 20 {
			continue
		}
		counts[shape]++
	}

	minCount := e.cfg.ShapeMinCount
	if frac := int(math.Ceil(e.cfg.ShapeMinFraction * float64(len(messages)))); frac > minCount {
		minCount = frac
	}

	out := make([]models.MessageShape, 0, len(counts))
	for shape, c := range counts {
		if c < minCount {
			continue
		}
		out = append(out, models.MessageShape{
			Shape:    shape,
			Count:    c,
			Fraction: float64(c) / float64(len(messages)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Shape < out[j].Shape
	})
	if len(out) > e.cfg.MaxShapes {
		out = out[:e.cfg.MaxShapes]
	}
	return out
}

// temporalProfile characterises when a service's anomalies occur.
func temporalProfile(records []models.AnomalyRecord) *models.TemporalProfile {
	if len(records) == 0 {
		return nil
	}

	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	profile := &models.TemporalProfile{}
	for _, ts := range times {
		profile.HourHistogram[ts.Hour()]++
	}

	spanMinutes := utils.DurationMinutes(times[0], times[len(times)-1])
	profile.TimeSpanHours = spanMinutes / 60
	if len(times) > 1 {
		profile.AvgIntervalMinutes = spanMinutes / float64(len(times)-1)
	}

	type hourCount struct {
		hour  int
		count int
	}
	busy := make([]hourCount, 0, 24)
	for hour, c := range profile.HourHistogram {
		if c > 0 {
			busy = append(busy, hourCount{hour: hour, count: c})
		}
	}
	sort.Slice(busy, func(i, j int) bool {
		if busy[i].count != busy[j].count {
			return busy[i].count > busy[j].count
		}
		return busy[i].hour < busy[j].hour
	})
	if len(busy) > 3 {
		busy = busy[:3]
	}
	for _, hc := range busy {
		profile.PeakHours = append(profile.PeakHours, hc.hour)
	}
	return profile
}

// keywordRegex builds a case-insensitive alternation over mined keywords.
func keywordRegex(keywords []models.KeywordCount) string {
	if len(keywords) == 0 {
		return ""
	}
	words := make([]string, len(keywords))
	for i, kw := range keywords {
		words[i] = kw.Keyword
	}
	return "(?i)(" + strings.Join(words, "|") + ")"
}

type serviceGroup struct {
	service string
	metric  []models.AnomalyRecord
	logs    []models.AnomalyRecord
}

func groupByService(records []models.AnomalyRecord) []serviceGroup {
	index := make(map[string]int)
	var groups []serviceGroup
	for _, r := range records {
		service := r.Service
		if service == "" {
			service = "unknown"
		}
		i, ok := index[service]
		if !ok {
			i = len(groups)
			index[service] = i
			groups = append(groups, serviceGroup{service: service})
		}
		if r.Kind == models.AnomalyLog {
			groups[i].logs = append(groups[i].logs, r)
		} else {
			groups[i].metric = append(groups[i].metric, r)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].service < groups[j].service })
	return groups
}

// mergeBaselines picks, per metric, the baseline with the widest window
// among the contributing records.
func mergeBaselines(records []models.AnomalyRecord) map[string]models.MetricStats {
	out := make(map[string]models.MetricStats)
	for _, r := range records {
		for name, stats := range r.Baseline {
			if existing, ok := out[name]; !ok || stats.Samples > existing.Samples {
				out[name] = stats
			}
		}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
