package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/patterns"
	"github.com/anomalystack/anomaly-scan/internal/scanner"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// Pipeline runs one full pass and reports its summary.
type Pipeline interface {
	Run(ctx context.Context) (models.PipelineSummary, error)
}

// ScanExecutor executes a batch of scanner specs.
type ScanExecutor interface {
	Run(ctx context.Context, specs []models.ScannerSpec) []models.ScanResult
}

// Assessor folds scan results into a risk assessment.
type Assessor interface {
	Assess(results []models.ScanResult) models.RiskAssessment
}

// StatusReader loads the persisted operational status.
type StatusReader interface {
	Load() (models.SystemStatus, error)
}

// Handlers exposes the engine over HTTP.
type Handlers struct {
	logger      *slog.Logger
	pipeline    Pipeline
	executor    ScanExecutor
	assessor    Assessor
	store       patterns.Store
	status      StatusReader
	scannersDir string
}

// NewHandlers wires the HTTP surface. Any dependency may be nil; its
// endpoints then answer 503.
func NewHandlers(logger *slog.Logger, pipeline Pipeline, executor ScanExecutor, assessor Assessor, store patterns.Store, status StatusReader, scannersDir string) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:      logger,
		pipeline:    pipeline,
		executor:    executor,
		assessor:    assessor,
		store:       store,
		status:      status,
		scannersDir: scannersDir,
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/pipeline/run", h.handlePipelineRun).Methods(http.MethodPost)
	v1.HandleFunc("/scanners/run", h.handleScannersRun).Methods(http.MethodPost)
	v1.HandleFunc("/patterns", h.handlePatterns).Methods(http.MethodGet)
	v1.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/risk", h.handleRisk).Methods(http.MethodGet)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	summary, err := h.pipeline.Run(r.Context())
	if err != nil {
		h.logger.Error("pipeline run failed", "error", err)
		// The summary still describes how far the run got.
		writeJSON(w, http.StatusInternalServerError, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type scanBatchResponse struct {
	Results []models.ScanResult   `json:"results"`
	Risk    models.RiskAssessment `json:"risk"`
}

func (h *Handlers) handleScannersRun(w http.ResponseWriter, r *http.Request) {
	if h.executor == nil || h.assessor == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner execution not configured")
		return
	}
	specs, _, err := scanner.LoadScanners(h.scannersDir)
	if err != nil {
		h.logger.Error("scanner load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "load scanners")
		return
	}
	if len(specs) == 0 {
		writeError(w, http.StatusNotFound, "no scanners generated yet")
		return
	}
	results := h.executor.Run(r.Context(), specs)
	writeJSON(w, http.StatusOK, scanBatchResponse{
		Results: results,
		Risk:    h.assessor.Assess(results),
	})
}

type patternsResponse struct {
	Summary  models.PatternSummary `json:"summary"`
	Patterns []models.Pattern      `json:"patterns"`
}

func (h *Handlers) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "pattern store not configured")
		return
	}
	loaded, err := h.store.LoadPatterns(r.Context())
	if err != nil {
		h.logger.Error("pattern load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "load patterns")
		return
	}
	if since := r.URL.Query().Get("since"); since != "" {
		cutoff, err := utils.ParseRFC3339(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filtered := loaded[:0]
		for _, p := range loaded {
			if !p.ExtractedAt.Before(cutoff) {
				filtered = append(filtered, p)
			}
		}
		loaded = filtered
	}
	writeJSON(w, http.StatusOK, patternsResponse{
		Summary:  patterns.Summarize(loaded),
		Patterns: loaded,
	})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not configured")
		return
	}
	status, err := h.status.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type riskResponse struct {
	Probability float64          `json:"probability"`
	Level       models.RiskLevel `json:"level"`
	AssessedAt  string           `json:"assessed_at,omitempty"`
}

func (h *Handlers) handleRisk(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not configured")
		return
	}
	status, err := h.status.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status")
		return
	}
	resp := riskResponse{
		Probability: status.LastRiskProbability,
		Level:       status.LastRiskLevel,
	}
	if !status.LastRunTime.IsZero() {
		resp.AssessedAt = status.LastRunTime.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
