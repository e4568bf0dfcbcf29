package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/twpayne/go-geom/encoding/geojson"

	"geoduck/pkg/transfer"
	"geoduck/pkg/verify"
)

// Service is what the handlers drive.
type Service interface {
	Transfer(ctx context.Context) (transfer.Result, error)
	Verify(ctx context.Context) (*verify.Report, error)
}

// APIHandler handles REST API requests for transfer and verification
type APIHandler struct {
	svc    Service
	logger *slog.Logger
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(svc Service, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		svc:    svc,
		logger: logger,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TransferHandler runs the pipeline and returns its result.
func (h *APIHandler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Transfer(r.Context())
	if err != nil {
		h.logger.Error("transfer request failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("transfer failed: %v", err))
		return
	}
	h.sendJSON(w, http.StatusOK, res)
}

// ReportHandler decodes the materialized table and returns the report.
func (h *APIHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Verify(r.Context())
	if err != nil {
		h.logger.Error("report request failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("verify failed: %v", err))
		return
	}
	h.sendJSON(w, http.StatusOK, report)
}

// GeometriesHandler returns the decoded geometries as a GeoJSON
// FeatureCollection. Rows that failed to decode are left out.
func (h *APIHandler) GeometriesHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Verify(r.Context())
	if err != nil {
		h.logger.Error("geometries request failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("verify failed: %v", err))
		return
	}

	fc := geojson.FeatureCollection{
		Features: make([]*geojson.Feature, 0, len(report.Decoded)),
	}
	for _, d := range report.Decoded {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.FormatInt(d.ID, 10),
			Geometry: d.Geometry,
			Properties: map[string]any{
				"id":   d.ID,
				"type": d.Type(),
				"area": d.Area(),
			},
		})
	}

	body, err := json.Marshal(&fc)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to serialize result to GeoJSON: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// sendError sends an error response as JSON
func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
