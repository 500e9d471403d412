package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// Runner executes a batch of scanners concurrently, one goroutine per
// scanner, each bounded by the per-scanner timeout. A scanner that exceeds
// its deadline is recorded as failed; the batch itself always completes.
type Runner struct {
	logger    *slog.Logger
	cfg       config.ScannerConfig
	runtime   *Runtime
	latencies *utils.LatencyTracker
}

// NewRunner wraps a runtime for batch execution.
func NewRunner(logger *slog.Logger, cfg config.ScannerConfig, runtime *Runtime) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:    logger,
		cfg:       cfg,
		runtime:   runtime,
		latencies: utils.NewLatencyTracker(512),
	}
}

// Run executes every spec and returns one result per scanner, ordered by
// service. Cancelling ctx stops scanners that have not finished; their
// results are reported as failed.
func (r *Runner) Run(ctx context.Context, specs []models.ScannerSpec) []models.ScanResult {
	if len(specs) == 0 {
		return nil
	}

	results := make([]models.ScanResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec models.ScannerSpec) {
			defer wg.Done()
			scanCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()

			start := time.Now()
			result := r.runtime.Execute(scanCtx, spec)
			if scanCtx.Err() != nil && result.Success {
				result.Success = false
				result.Error = utils.NewAppError("scanner.run", utils.KindScannerExecution,
					"scanner exceeded its deadline", scanCtx.Err()).Error()
			}
			results[i] = result
			r.latencies.Observe(time.Since(start))
			r.logger.Debug("scanner finished",
				"scanner", spec.ID,
				"success", result.Success,
				"anomalies", result.TotalAnomalies,
				"duration", time.Since(start))
		}(i, spec)
	}
	wg.Wait()

	SortResults(results)
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	r.logger.Info("scan batch complete",
		"scanners", len(specs),
		"succeeded", succeeded,
		"p95", r.latencies.Percentile(95))
	return results
}
