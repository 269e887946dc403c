// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/engine"
	"github.com/xkilldash9x/scalpel-vapt/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

const targetNotice = "Only these targets are authorized for penetration testing. " +
	"Testing against unauthorized targets is prohibited and may be illegal."

// Report response headers.
const (
	HeaderReportRunID      = "X-Report-Run-ID"
	HeaderReportTarget     = "X-Report-Target"
	HeaderReportFindings   = "X-Report-Findings"
	HeaderReportRiskScore  = "X-Report-Risk-Score"
	HeaderReportRiskRating = "X-Report-Risk-Rating"
)

var reportHeaders = []string{
	HeaderReportRunID, HeaderReportTarget, HeaderReportFindings,
	HeaderReportRiskScore, HeaderReportRiskRating, "Content-Disposition",
}

var endpoints = []string{
	"GET /health",
	"GET /authorized_targets",
	"GET /runs",
	"POST /invoke_pentest",
	"GET /pentest_status/{run_id}",
	"GET /pentest_results/{run_id}",
	"POST /generate_report/{run_id}",
	"GET /report_status/{run_id}",
}

// Service is the run lifecycle the API exposes.
type Service interface {
	Submit(ctx context.Context, req schemas.PentestRequest) (schemas.Run, error)
	Status(runID string) (schemas.Run, error)
	List() []schemas.Run
	Results(ctx context.Context, runID string) (orchestrator.Results, error)
	GenerateReport(ctx context.Context, runID string) (reporting.Metadata, error)
	ReportStatus(ctx context.Context, runID string) (orchestrator.ReportStatus, error)
	Policy() schemas.TargetPolicy
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Info describes the running service.
type Info struct {
	Version           string
	StoreName         string
	EstimatedDuration string
}

// Handlers serves the HTTP endpoints.
type Handlers struct {
	log   *zap.Logger
	svc   Service
	store Pinger
	info  Info
	now   func() time.Time
}

// NewHandlers creates the endpoint handlers. store may be nil.
func NewHandlers(logger *zap.Logger, svc Service, store Pinger, info Info) *Handlers {
	return &Handlers{
		log:   logger.Named("api_handlers"),
		svc:   svc,
		store: store,
		info:  info,
		now:   time.Now,
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

type invokeResponse struct {
	RunID             string    `json:"run_id"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	Target            string    `json:"target"`
	Modules           []string  `json:"modules"`
	Timestamp         time.Time `json:"timestamp"`
	EstimatedDuration string    `json:"estimated_duration"`
}

// HandleRoot describes the service.
func (h *Handlers) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "scalpel-vapt",
		"version":   h.info.Version,
		"status":    "running",
		"endpoints": endpoints,
	})
}

// HandleHealth reports the service and results store state. The endpoint
// answers 200 even when the store is down so load balancers keep routing
// status reads; the body says "degraded".
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   h.info.Version,
		Timestamp: h.now().UTC(),
		Services:  map[string]string{"scanner": "ready"},
	}
	storeName := h.info.StoreName
	if storeName == "" {
		storeName = "results_store"
	}
	if h.store == nil {
		resp.Services[storeName] = "disconnected"
		resp.Status = "degraded"
	} else if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("Results store health check failed.", zap.Error(err))
		resp.Services[storeName] = "disconnected"
		resp.Status = "degraded"
	} else {
		resp.Services[storeName] = "connected"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAuthorizedTargets lists the scan whitelist.
func (h *Handlers) HandleAuthorizedTargets(w http.ResponseWriter, _ *http.Request) {
	policy := h.svc.Policy()
	targets := policy.AuthorizedTargets
	if targets == nil {
		targets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authorized_targets": targets,
		"modules":            policy.KnownModules,
		"notice":             targetNotice,
	})
}

// HandleListRuns lists the runs known to this process.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := h.svc.List()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

// HandleInvokePentest queues a new run.
func (h *Handlers) HandleInvokePentest(w http.ResponseWriter, r *http.Request) {
	var req schemas.PentestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	run, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.respondWithErr(w, "Failed to initiate penetration test", err)
		return
	}

	h.log.Info("Pentest initiated.", zap.String("run_id", run.ID), zap.String("target", run.Target))
	writeJSON(w, http.StatusAccepted, invokeResponse{
		RunID:             run.ID,
		Status:            "initiated",
		Message:           "Penetration test has been started. Use the run_id to check status.",
		Target:            run.Target,
		Modules:           run.Modules,
		Timestamp:         h.now().UTC(),
		EstimatedDuration: h.info.EstimatedDuration,
	})
}

// HandlePentestStatus returns a run snapshot.
func (h *Handlers) HandlePentestStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Status(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondWithErr(w, "Penetration test run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandlePentestResults returns the findings recorded for a run.
func (h *Handlers) HandlePentestResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Results(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.respondWithErr(w, "Failed to retrieve results", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGenerateReport renders the report and returns the artifact.
func (h *Handlers) HandleGenerateReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	meta, err := h.svc.GenerateReport(r.Context(), runID)
	if err != nil {
		h.respondWithErr(w, "Report generation failed", err)
		return
	}

	f, err := os.Open(meta.Path)
	if err != nil {
		h.log.Error("Report artifact unreadable.", zap.String("run_id", runID), zap.String("path", meta.Path), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Report generation failed - file not created")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	w.Header().Set(HeaderReportRunID, meta.RunID)
	w.Header().Set(HeaderReportTarget, meta.Target)
	w.Header().Set(HeaderReportFindings, strconv.Itoa(meta.TotalFindings))
	w.Header().Set(HeaderReportRiskScore, strconv.FormatFloat(meta.OverallRiskScore, 'f', 2, 64))
	w.Header().Set(HeaderReportRiskRating, string(meta.RiskRating))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.log.Warn("Failed to stream report.", zap.String("run_id", runID), zap.Error(err))
	}
}

// HandleReportStatus describes a run's report without generating it.
func (h *Handlers) HandleReportStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.ReportStatus(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.respondWithErr(w, "Failed to get report status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schemas.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, schemas.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schemas.ErrRunNotTerminal), errors.Is(err, schemas.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, schemas.ErrQueueFull), errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, schemas.ErrCollaboratorFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithErr maps err to a status. Client errors carry the error text;
// server errors are prefixed with context.
func (h *Handlers) respondWithErr(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(msg, zap.Error(err))
		h.respondWithError(w, code, fmt.Sprintf("%s: %v", msg, err))
		return
	}
	h.respondWithError(w, code, err.Error())
}

func (h *Handlers) respondWithError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Detail: message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
