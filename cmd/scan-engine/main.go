package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anomalystack/anomaly-scan/internal/api"
	"github.com/anomalystack/anomaly-scan/internal/collector"
	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/detect"
	"github.com/anomalystack/anomaly-scan/internal/engine"
	"github.com/anomalystack/anomaly-scan/internal/metrics"
	"github.com/anomalystack/anomaly-scan/internal/patterns"
	"github.com/anomalystack/anomaly-scan/internal/risk"
	"github.com/anomalystack/anomaly-scan/internal/scanner"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const usage = `Usage: scan-engine [-config path] <command>

Commands:
  run        execute one full pipeline pass
  monitor    run the pipeline continuously on the configured interval
  serve      expose the engine over HTTP
  collect    take one collection pass and print the window sizes
  detect     collect and run anomaly detection
  extract    extract patterns from a fresh detection pass
  generate   compile stored patterns into scanner artifacts
  scan       execute all generated scanners and assess risk
  status     print the persisted engine status
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(logger, cfg)
	if err != nil {
		logger.Error("failed to initialise engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.store.Close()

	if err := app.dispatch(ctx, command, cfg, stop); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted")
			return
		}
		logger.Error("command failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

// app holds the wired engine components shared by every command.
type app struct {
	logger       *slog.Logger
	collector    *collector.Collector
	detector     *detect.Detector
	extractor    *patterns.Extractor
	store        patterns.Store
	synthesizer  *scanner.Synthesizer
	runner       *scanner.Runner
	aggregator   *risk.Aggregator
	status       *engine.StatusFile
	orchestrator *engine.Orchestrator
	scannersDir  string
}

func buildApp(logger *slog.Logger, cfg *config.Config) (*app, error) {
	col, err := collector.New(logger, cfg.Data)
	if err != nil {
		return nil, err
	}
	store, err := patterns.NewStore(logger, cfg.Store, cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	status, err := engine.NewStatusFile(cfg.Data.Dir)
	if err != nil {
		store.Close()
		return nil, err
	}

	detector := detect.NewDetector(logger, cfg.Detection)
	extractor := patterns.NewExtractor(logger, cfg.Extract, store)
	synthesizer := scanner.NewSynthesizer(logger, cfg.Extract, cfg.Data.ScannersDir)
	runtime := scanner.NewRuntime(logger, cfg.Scanner, col)
	runner := scanner.NewRunner(logger, cfg.Scanner, runtime)
	aggregator := risk.NewAggregator(logger, cfg.Risk)

	orchestrator := engine.NewOrchestrator(
		logger, col, detector, extractor, synthesizer, runner, aggregator,
		store, status, cfg.Data.ScannersDir,
	)

	return &app{
		logger:       logger,
		collector:    col,
		detector:     detector,
		extractor:    extractor,
		store:        store,
		synthesizer:  synthesizer,
		runner:       runner,
		aggregator:   aggregator,
		status:       status,
		orchestrator: orchestrator,
		scannersDir:  cfg.Data.ScannersDir,
	}, nil
}

func (a *app) dispatch(ctx context.Context, command string, cfg *config.Config, stop context.CancelFunc) error {
	switch command {
	case "run":
		summary, err := a.orchestrator.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(summary)

	case "monitor":
		a.logger.Info("monitoring", slog.Duration("interval", cfg.Data.MonitorInterval))
		err := a.orchestrator.Monitor(ctx, cfg.Data.MonitorInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	case "serve":
		return a.serve(ctx, cfg, stop)

	case "collect":
		window, err := a.collector.Collect(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{
			"system_samples":  len(window.System),
			"process_samples": len(window.Process),
			"log_services":    len(window.Logs),
		})

	case "detect":
		window, err := a.collector.Collect(ctx)
		if err != nil {
			return err
		}
		result, err := a.detector.Detect(ctx, window)
		if err != nil {
			return err
		}
		return printJSON(result.Anomalies)

	case "extract":
		window, err := a.collector.Collect(ctx)
		if err != nil {
			return err
		}
		result, err := a.detector.Detect(ctx, window)
		if err != nil {
			return err
		}
		extracted, err := a.extractor.Extract(ctx, result.Anomalies)
		if err != nil {
			return err
		}
		return printJSON(extracted)

	case "generate":
		stored, err := a.store.LoadPatterns(ctx)
		if err != nil {
			return err
		}
		_, manifest, err := a.synthesizer.Synthesize(ctx, stored)
		if err != nil {
			return err
		}
		return printJSON(manifest)

	case "scan":
		specs, _, err := scanner.LoadScanners(a.scannersDir)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			return fmt.Errorf("no scanners generated yet; run generate first")
		}
		results := a.runner.Run(ctx, specs)
		return printJSON(struct {
			Risk    interface{} `json:"risk"`
			Results interface{} `json:"results"`
		}{Risk: a.aggregator.Assess(results), Results: results})

	case "status":
		status, err := a.status.Load()
		if err != nil {
			return err
		}
		return printJSON(status)
	}

	flag.Usage()
	return fmt.Errorf("unknown command %q", command)
}

func (a *app) serve(ctx context.Context, cfg *config.Config, stop context.CancelFunc) error {
	handlers := api.NewHandlers(
		a.logger, a.orchestrator, a.runner, a.aggregator,
		a.store, a.status, a.scannersDir,
	)
	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		return err
	}
	a.logger.Info("http server listening", slog.String("address", server.Address()))

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			a.logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
