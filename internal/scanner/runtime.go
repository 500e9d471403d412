package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
)

// MetricSource supplies one live snapshot of host metrics at scan time.
type MetricSource interface {
	Snapshot(ctx context.Context) (map[string]float64, error)
}

// severityWeights scores findings for the bounded severity sum.
var severityWeights = map[models.Severity]float64{
	models.SeverityCritical: 10,
	models.SeverityHigh:     7,
	models.SeverityMedium:   4,
	models.SeverityLow:      1,
}

const maxSeverityScore = 10

// anomalyAdvice maps finding types to the follow-up a result should carry.
var anomalyAdvice = map[string]string{
	"cpu_threshold_exceeded":                 "check top CPU consumers and recent load changes",
	"memory_threshold_exceeded":              "inspect memory growth; look for leaks or oversized caches",
	"disk_usage_threshold_exceeded":          "free disk space or expand the volume before it fills",
	"network_connections_threshold_exceeded": "inspect connection pools for leaked or stuck connections",
	"process_count_threshold_exceeded":       "check for fork storms or stuck supervisors",
	"log_pattern_match":                      "review the matched log lines for the underlying fault",
	"keyword_match":                          "scan recent logs around the flagged keyword",
	"composite_rule":                         "correlated metric and log pressure; review the service end to end",
}

// Runtime interprets scanner specs against the live host. Execution never
// consults the pattern store or any model: everything a scanner needs is
// baked into its artifact.
type Runtime struct {
	logger  *slog.Logger
	cfg     config.ScannerConfig
	metrics MetricSource
}

// NewRuntime constructs a spec interpreter over the given metric source.
func NewRuntime(logger *slog.Logger, cfg config.ScannerConfig, metrics MetricSource) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger, cfg: cfg, metrics: metrics}
}

// Execute runs one scanner and always returns a result; failures are carried
// inside it, never as a Go error, so one bad scanner cannot sink a batch.
func (r *Runtime) Execute(ctx context.Context, spec models.ScannerSpec) models.ScanResult {
	result := models.ScanResult{
		ScannerID:      spec.ID,
		Service:        spec.Service,
		StartedAt:      time.Now().UTC(),
		SeverityCounts: make(map[models.Severity]int),
	}

	live, err := r.metrics.Snapshot(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("metric snapshot: %v", err)
		result.FinishedAt = time.Now().UTC()
		return result
	}

	lines := r.tailLogs(spec.LogPaths)

	var findings []models.ScanAnomaly
	for _, rule := range spec.Rules {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			result.FinishedAt = time.Now().UTC()
			return result
		}
		hit, finding := r.evaluate(rule, live, lines)
		if hit {
			findings = append(findings, finding)
			result.PatternMatches++
		}
	}

	for _, kw := range spec.Keywords {
		count, sample := keywordHits(lines, kw, r.cfg.MaxReportedHits)
		if count == 0 {
			continue
		}
		findings = append(findings, models.ScanAnomaly{
			Type:        "keyword_match",
			Keyword:     kw,
			Line:        sample,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("keyword %q found %d times in recent logs", kw, count),
		})
		result.PatternMatches++
	}

	result.TotalAnomalies = len(findings)
	for _, f := range findings {
		result.SeverityCounts[f.Severity]++
		result.SeverityScore += severityWeights[f.Severity]
	}
	if result.SeverityScore > maxSeverityScore {
		result.SeverityScore = maxSeverityScore
	}
	result.Recommendations = recommendFor(findings)
	if len(findings) > r.cfg.MaxAnomalies {
		findings = findings[:r.cfg.MaxAnomalies]
	}
	result.Anomalies = findings
	result.Success = true
	result.FinishedAt = time.Now().UTC()
	return result
}

func (r *Runtime) evaluate(rule models.Rule, live map[string]float64, lines []string) (bool, models.ScanAnomaly) {
	switch rule.Type {
	case models.RuleThreshold:
		value, ok := live[rule.Metric]
		if !ok || !compare(value, rule.Operator, rule.Value) {
			return false, models.ScanAnomaly{}
		}
		return true, models.ScanAnomaly{
			Type:         strings.TrimSuffix(rule.Metric, "_percent") + "_threshold_exceeded",
			Metric:       rule.Metric,
			Rule:         rule.Name,
			CurrentValue: value,
			Threshold:    rule.Value,
			Severity:     rule.Severity,
			Description:  fmt.Sprintf("%s is %.1f, above %.1f", rule.Metric, value, rule.Value),
		}

	case models.RuleComposite:
		if !r.evaluateComposite(rule, live, lines) {
			return false, models.ScanAnomaly{}
		}
		return true, models.ScanAnomaly{
			Type:        "composite_rule",
			Rule:        rule.Name,
			Severity:    rule.Severity,
			Description: rule.Description,
		}

	case models.RuleLogPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			r.logger.Warn("invalid log pattern rule", "rule", rule.Name, "error", err)
			return false, models.ScanAnomaly{}
		}
		for _, line := range lines {
			if re.MatchString(line) {
				return true, models.ScanAnomaly{
					Type:        "log_pattern_match",
					Rule:        rule.Name,
					Line:        line,
					Severity:    rule.Severity,
					Description: fmt.Sprintf("log line matched %s", rule.Name),
				}
			}
		}
	}
	return false, models.ScanAnomaly{}
}

// evaluateComposite applies AND/OR logic over child conditions. Unknown
// logic defaults to AND.
func (r *Runtime) evaluateComposite(rule models.Rule, live map[string]float64, lines []string) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	anyHit := false
	for _, cond := range rule.Conditions {
		hit, _ := r.evaluate(cond, live, lines)
		if hit {
			anyHit = true
		} else if !strings.EqualFold(rule.Logic, "or") {
			return false
		}
	}
	if strings.EqualFold(rule.Logic, "or") {
		return anyHit
	}
	return true
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">", "":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	}
	return false
}

// tailLogs reads the last TailLines lines of every readable log path.
// Unreadable paths are normal on hosts that do not run the service.
func (r *Runtime) tailLogs(paths []string) []string {
	var lines []string
	for _, path := range paths {
		tail, err := TailFile(path, r.cfg.TailLines)
		if err != nil {
			r.logger.Debug("log path unavailable", "path", path, "error", err)
			continue
		}
		lines = append(lines, tail...)
	}
	return lines
}

const tailChunkSize = 256 * 1024

// TailFile returns up to n trailing lines without reading the whole file.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - tailChunkSize
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if offset > 0 && len(lines) > 0 {
		// The first line after a mid-file seek is almost always partial.
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// recommendFor turns findings into deduplicated follow-up actions, one per
// distinct finding type, in the order the findings fired.
func recommendFor(findings []models.ScanAnomaly) []string {
	var advice []string
	seen := make(map[string]bool)
	for _, f := range findings {
		text, ok := anomalyAdvice[f.Type]
		if !ok || seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		advice = append(advice, text)
	}
	if len(findings) >= 3 {
		advice = append(advice, "multiple checks fired together; review the service as a whole")
	}
	return advice
}

func keywordHits(lines []string, keyword string, maxHits int) (int, string) {
	lower := strings.ToLower(keyword)
	count := 0
	sample := ""
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), lower) {
			if count == 0 {
				sample = line
			}
			count++
			if count >= maxHits {
				break
			}
		}
	}
	return count, sample
}

// SortResults orders scan results by service for stable reporting.
func SortResults(results []models.ScanResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Service < results[j].Service
	})
}
