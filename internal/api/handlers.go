package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/model"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/sbom"
)

type ReportGenerator interface {
	Generate(ctx context.Context, scanID, format string) (*report.Document, error)
}

type SBOMExporter interface {
	Export(ctx context.Context, scanID, format string) (*sbom.Export, error)
}

type CVEResolver interface {
	Resolve(ctx context.Context, cveID string) (*model.CVECacheEntry, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers adapts the three components to JSON-over-HTTP function calls.
type Handlers struct {
	reports ReportGenerator
	sboms   SBOMExporter
	cves    CVEResolver
	db      Pinger
	log     *zap.Logger
}

func NewHandlers(reports ReportGenerator, sboms SBOMExporter, cves CVEResolver, db Pinger, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{reports: reports, sboms: sboms, cves: cves, db: db, log: logger.Named("api")}
}

type scanRequest struct {
	ScanID string `json:"scanId"`
	Format string `json:"format"`
}

type cveRequest struct {
	CVEID string `json:"cveId"`
}

func (h *Handlers) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ScanID == "" {
		writeError(w, http.StatusBadRequest, "scanId is required")
		return
	}

	doc, err := h.reports.Generate(r.Context(), req.ScanID, req.Format)
	if err != nil {
		h.fail(w, r, "generate report", err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *Handlers) ExportSBOM(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ScanID == "" {
		writeError(w, http.StatusBadRequest, "scanId is required")
		return
	}

	out, err := h.sboms.Export(r.Context(), req.ScanID, req.Format)
	if err != nil {
		h.fail(w, r, "export sbom", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) FetchCVE(w http.ResponseWriter, r *http.Request) {
	var req cveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CVEID == "" {
		writeError(w, http.StatusBadRequest, "CVE ID is required")
		return
	}

	entry, err := h.cves.Resolve(r.Context(), req.CVEID)
	if err != nil {
		h.fail(w, r, "fetch cve", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Health checks DB connectivity with a 2s timeout and reports 503 when it is unreachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("healthz: db ping failed", zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("op", op),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", fields...)
	} else {
		h.log.Info("request rejected", fields...)
	}
	writeError(w, status, err.Error())
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
