package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// maxCarriedMessages bounds the log lines an anomaly record keeps for
// downstream keyword and shape mining.
const maxCarriedMessages = 50

// Window is one detection input: system samples, process samples and
// per-service log digests collected over the same span.
type Window struct {
	System  []models.MetricSample
	Process []models.MetricSample
	Logs    []models.LogSummary
}

// Result carries the confirmed anomalies plus a note of every model that was
// skipped for insufficient data.
type Result struct {
	Anomalies     []models.AnomalyRecord
	SkippedModels []string
}

// Detector runs the outlier ensemble over a collection window. System-level
// samples go through every model and require Quorum agreeing votes; process
// groups are small and use the isolation model alone.
type Detector struct {
	logger *slog.Logger
	cfg    config.DetectionConfig
	models []OutlierModel
}

// NewDetector builds a detector with the default model ensemble.
func NewDetector(logger *slog.Logger, cfg config.DetectionConfig) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger: logger,
		cfg:    cfg,
		models: []OutlierModel{
			NewIsolationModel(cfg.IsolationTrees),
			NewKNNModel(cfg.KNNNeighbors, cfg.KNNMinSamples),
		},
	}
}

// Detect runs all three signal paths and merges their anomalies. An empty
// window is not an error: the result simply carries no anomalies.
func (d *Detector) Detect(ctx context.Context, window Window) (Result, error) {
	var res Result

	system, skipped := d.detectMetrics(ctx, models.AnomalySystem, "system", window.System, d.models, d.cfg.Quorum)
	res.Anomalies = append(res.Anomalies, system...)
	res.SkippedModels = append(res.SkippedModels, skipped...)

	for _, group := range groupProcessSamples(window.Process) {
		if len(group.samples) < d.cfg.ProcessMinGroup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		procModels := []OutlierModel{NewIsolationModel(d.cfg.IsolationTrees)}
		found, procSkipped := d.detectMetrics(ctx, models.AnomalyProcess, group.name, group.samples, procModels, d.cfg.ProcessQuorum)
		res.Anomalies = append(res.Anomalies, found...)
		res.SkippedModels = append(res.SkippedModels, procSkipped...)
	}

	for _, summary := range window.Logs {
		if record, ok := d.detectLog(summary); ok {
			res.Anomalies = append(res.Anomalies, record)
		}
	}

	d.logger.Info("detection window complete",
		"system_samples", len(window.System),
		"process_samples", len(window.Process),
		"log_services", len(window.Logs),
		"anomalies", len(res.Anomalies),
		"skipped_models", len(res.SkippedModels))
	return res, nil
}

// detectMetrics runs the given models over one sample group and keeps the
// samples that at least quorum models agree are outliers. A model's vote for
// sample i is score_i > mean+std of that model's scores over the group.
func (d *Detector) detectMetrics(ctx context.Context, kind models.AnomalyKind, service string, samples []models.MetricSample, ensemble []OutlierModel, quorum int) ([]models.AnomalyRecord, []string) {
	if len(samples) < d.cfg.MinSamples {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil
	}

	features, _ := featureMatrix(samples)
	if len(features) == 0 {
		return nil, nil
	}

	type modelRun struct {
		name   string
		scores []float64
		stats  models.MetricStats
	}

	var runs []modelRun
	var skipped []string
	for _, m := range ensemble {
		if len(samples) < m.MinSamples() {
			skipped = append(skipped, m.Name())
			d.logger.Debug("model skipped",
				"model", m.Name(), "service", service,
				"samples", len(samples), "min_samples", m.MinSamples())
			continue
		}
		scores, err := m.Score(features)
		if err != nil {
			skipped = append(skipped, m.Name())
			d.logger.Warn("model scoring failed",
				"model", m.Name(), "service", service,
				"error", utils.NewAppError("detect.score", utils.KindModelSkipped, "model did not score", err))
			continue
		}
		runs = append(runs, modelRun{name: m.Name(), scores: scores, stats: models.ComputeStats(scores)})
	}
	if len(runs) == 0 {
		return nil, skipped
	}

	baseline := baselineStats(samples)

	var records []models.AnomalyRecord
	for i, sample := range samples {
		votes := 0
		badness := 0.0
		rawVotes := make(map[string]float64, len(runs))
		for _, run := range runs {
			rawVotes[run.name] = run.scores[i]
			if run.stats.Std == 0 {
				continue
			}
			z := (run.scores[i] - run.stats.Mean) / run.stats.Std
			badness += z
			if run.scores[i] > run.stats.Mean+run.stats.Std {
				votes++
			}
		}
		badness /= float64(len(runs))
		if votes < quorum {
			continue
		}

		records = append(records, models.AnomalyRecord{
			ID:        uuid.NewString(),
			Timestamp: sample.Timestamp,
			Kind:      kind,
			Service:   service,
			PID:       sample.PID,
			Metrics:   copyValues(sample.Values),
			Baseline:  baseline,
			Severity:  d.severityFor(badness),
			Votes:     rawVotes,
			Badness:   badness,
		})
	}
	return records, skipped
}

// detectLog classifies one service log digest. Any critical line makes the
// record at least high; otherwise the error rate decides the tier.
func (d *Detector) detectLog(summary models.LogSummary) (models.AnomalyRecord, bool) {
	errors := summary.ErrorCount + summary.CriticalCount
	if errors == 0 {
		return models.AnomalyRecord{}, false
	}

	rate := 1.0
	if summary.TotalLines > 0 {
		rate = float64(errors) / float64(summary.TotalLines)
	}

	severity := models.Severity("")
	switch {
	case rate >= d.cfg.LogTiers.High:
		severity = models.SeverityHigh
	case rate >= d.cfg.LogTiers.Medium:
		severity = models.SeverityMedium
	case rate >= d.cfg.LogTiers.Low:
		severity = models.SeverityLow
	}
	if summary.CriticalCount > 0 {
		severity = models.MaxSeverity(severity, models.SeverityHigh)
	}
	if severity == "" {
		return models.AnomalyRecord{}, false
	}

	ts := summary.CollectedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	messages := summary.Messages
	if len(messages) > maxCarriedMessages {
		messages = messages[:maxCarriedMessages]
	}
	return models.AnomalyRecord{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		Kind:          models.AnomalyLog,
		Service:       summary.Service,
		ErrorCount:    summary.ErrorCount,
		CriticalCount: summary.CriticalCount,
		TotalLines:    summary.TotalLines,
		Messages:      append([]string(nil), messages...),
		Severity:      severity,
		Badness:       rate,
	}, true
}

func (d *Detector) severityFor(badness float64) models.Severity {
	switch {
	case badness >= d.cfg.Severity.Critical:
		return models.SeverityCritical
	case badness >= d.cfg.Severity.High:
		return models.SeverityHigh
	case badness >= d.cfg.Severity.Medium:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

type processGroup struct {
	name    string
	samples []models.MetricSample
}

// groupProcessSamples buckets process samples by process name, preserving
// first-seen order so detection output is stable.
func groupProcessSamples(samples []models.MetricSample) []processGroup {
	index := make(map[string]int)
	var groups []processGroup
	for _, s := range samples {
		if s.Name == "" {
			continue
		}
		i, ok := index[s.Name]
		if !ok {
			i = len(groups)
			index[s.Name] = i
			groups = append(groups, processGroup{name: s.Name})
		}
		groups[i].samples = append(groups[i].samples, s)
	}
	return groups
}

func copyValues(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
