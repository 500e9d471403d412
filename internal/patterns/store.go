package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
)

// Store abstracts pattern persistence. Saves are append-only; the pattern
// library only ever grows, and summaries are recomputed from the full set.
type Store interface {
	SavePatterns(ctx context.Context, patterns []models.Pattern) error
	LoadPatterns(ctx context.Context) ([]models.Pattern, error)
	Close() error
}

// NewStore selects a backend from configuration.
func NewStore(logger *slog.Logger, cfg config.StoreConfig, dataDir string) (Store, error) {
	switch cfg.Backend {
	case "file", "":
		return NewFileStore(logger, dataDir)
	case "redis":
		return NewRedisStore(logger, cfg.Redis)
	case "postgres":
		return NewPostgresStore(logger, cfg.Postgres)
	}
	return nil, fmt.Errorf("unknown pattern store backend %q", cfg.Backend)
}

// Summarize recomputes the library overview from a loaded pattern set.
func Summarize(patterns []models.Pattern) models.PatternSummary {
	summary := models.PatternSummary{Total: len(patterns)}
	services := make(map[string]struct{})
	for _, p := range patterns {
		switch p.Kind {
		case models.PatternMetric:
			summary.Metric++
		case models.PatternLog:
			summary.Log++
		case models.PatternComposite:
			summary.Composite++
		}
		services[p.Service] = struct{}{}
	}
	summary.Services = make([]string, 0, len(services))
	for s := range services {
		summary.Services = append(summary.Services, s)
	}
	sort.Strings(summary.Services)
	return summary
}
