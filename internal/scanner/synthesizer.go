package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const manifestFileName = "manifest.json"

// Synthesizer compiles stored patterns into standalone scanner artifacts.
// Synthesis is deterministic: the same pattern set always yields the same
// thresholds, keywords and rule list, in the same order.
type Synthesizer struct {
	logger *slog.Logger
	cfg    config.ExtractConfig
	dir    string
}

// NewSynthesizer writes artifacts under dir, creating it on first use.
func NewSynthesizer(logger *slog.Logger, cfg config.ExtractConfig, dir string) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{logger: logger, cfg: cfg, dir: dir}
}

// Synthesize compiles one scanner per service present in the pattern set and
// writes the artifacts plus a manifest. A malformed pattern skips only its
// own service; generation continues for the rest.
func (s *Synthesizer) Synthesize(ctx context.Context, patterns []models.Pattern) ([]models.ScannerSpec, models.ScannerManifest, error) {
	manifest := models.ScannerManifest{GeneratedAt: time.Now().UTC()}
	if len(patterns) == 0 {
		return nil, manifest, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, manifest, utils.NewAppError("scanner.synthesize", utils.KindPersistence, "create scanners dir", err)
	}

	byService := make(map[string][]models.Pattern)
	for _, p := range patterns {
		byService[p.Service] = append(byService[p.Service], p)
	}
	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	var specs []models.ScannerSpec
	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			return nil, manifest, err
		}
		spec, err := s.compile(svc, byService[svc])
		if err != nil {
			s.logger.Warn("skipping scanner",
				"service", svc,
				"error", utils.NewAppError("scanner.synthesize", utils.KindScannerGeneration, "compile scanner", err))
			continue
		}
		file := fmt.Sprintf("scanner_%s.json", svc)
		if err := writeJSON(filepath.Join(s.dir, file), spec); err != nil {
			return nil, manifest, utils.NewAppError("scanner.synthesize", utils.KindPersistence, "write scanner artifact", err)
		}
		specs = append(specs, spec)
		manifest.Scanners = append(manifest.Scanners, models.ManifestEntry{
			ID:         spec.ID,
			Service:    spec.Service,
			File:       file,
			Severity:   spec.Severity,
			Confidence: spec.Confidence,
		})
	}

	if err := writeJSON(filepath.Join(s.dir, manifestFileName), manifest); err != nil {
		return nil, manifest, utils.NewAppError("scanner.synthesize", utils.KindPersistence, "write manifest", err)
	}

	s.logger.Info("scanner generation complete", "patterns", len(patterns), "scanners", len(specs))
	return specs, manifest, nil
}

// compile fuses every pattern a service has into one spec. Threshold
// conflicts resolve to the stricter (higher) value; keywords are deduplicated.
func (s *Synthesizer) compile(service string, patterns []models.Pattern) (models.ScannerSpec, error) {
	if service == "" {
		return models.ScannerSpec{}, fmt.Errorf("pattern without service")
	}

	thresholds := make(map[string]float64)
	keywordSet := make(map[string]struct{})
	severity := models.SeverityLow
	confidence := 0.0
	var ids []string
	var compositeRules []models.Rule

	for _, p := range patterns {
		ids = append(ids, p.ID)
		severity = models.MaxSeverity(severity, p.Severity)
		if p.Confidence > confidence {
			confidence = p.Confidence
		}
		for name, v := range p.Thresholds {
			if existing, ok := thresholds[name]; !ok || v > existing {
				thresholds[name] = v
			}
		}
		// Metric patterns carry no precompiled thresholds; derive them
		// from the full-window baseline, raised to the domain floor.
		if p.Kind == models.PatternMetric {
			for name, stats := range p.Baseline {
				v := stats.Mean + stats.Std
				if floor, ok := s.cfg.DomainFloors[name]; ok && v < floor {
					v = floor
				}
				if existing, ok := thresholds[name]; !ok || v > existing {
					thresholds[name] = v
				}
			}
		}
		for _, kw := range p.Keywords {
			keywordSet[kw.Keyword] = struct{}{}
		}
		if p.Kind == models.PatternComposite {
			compositeRules = append(compositeRules, p.Rules...)
		}
	}
	if len(thresholds) == 0 && len(keywordSet) == 0 {
		return models.ScannerSpec{}, fmt.Errorf("patterns carry no thresholds or keywords")
	}
	sort.Strings(ids)

	keywords := make([]string, 0, len(keywordSet))
	for kw := range keywordSet {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	rules := buildRules(thresholds, keywords, severity)
	rules = append(rules, dedupeRules(compositeRules, rules)...)

	return models.ScannerSpec{
		ID:               "scanner-" + service,
		Service:          service,
		GeneratedAt:      time.Now().UTC(),
		SourcePatternIDs: ids,
		Severity:         severity,
		Confidence:       confidence,
		Thresholds:       thresholds,
		Keywords:         keywords,
		Rules:            rules,
		LogPaths:         LogPathsFor(service),
	}, nil
}

// buildRules emits one threshold rule per metric plus one keyword rule when
// keywords exist, in sorted metric order.
func buildRules(thresholds map[string]float64, keywords []string, severity models.Severity) []models.Rule {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var rules []models.Rule
	for _, name := range names {
		rules = append(rules, models.Rule{
			Type:        models.RuleThreshold,
			Name:        name + "_threshold",
			Severity:    severity,
			Metric:      name,
			Operator:    ">",
			Value:       thresholds[name],
			Weight:      0.6,
			Description: fmt.Sprintf("%s above learned threshold", name),
		})
	}
	if len(keywords) > 0 {
		rules = append(rules, models.Rule{
			Type:        models.RuleLogPattern,
			Name:        "log_keywords",
			Severity:    severity,
			Pattern:     keywordAlternation(keywords),
			Weight:      0.4,
			Description: "recurring error keywords in recent log lines",
		})
	}
	return rules
}

// dedupeRules drops composite-sourced rules whose name already exists among
// the generated ones, so fused patterns do not double-fire.
func dedupeRules(candidates, existing []models.Rule) []models.Rule {
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.Name] = struct{}{}
	}
	var out []models.Rule
	for _, r := range candidates {
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r)
	}
	return out
}

func keywordAlternation(keywords []string) string {
	joined := ""
	for i, kw := range keywords {
		if i > 0 {
			joined += "|"
		}
		joined += kw
	}
	return "(?i)(" + joined + ")"
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
