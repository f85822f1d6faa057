package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kennethnrk/echo/internal/controller/training"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/monitor"
	"github.com/kennethnrk/echo/internal/registry"
	"github.com/kennethnrk/echo/internal/response"
)

// Handler holds the HTTP handlers.
type Handler struct {
	ctrl *training.Controller
}

type PredictRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	Input     string `json:"input"`
	Resolve   bool   `json:"resolve"`
}

type LoadRequest struct {
	ProjectID string `json:"project_id"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "provider_ready": h.ctrl.ProviderReady()})
}

// Predict classifies the request input. When project_id names a project
// other than the active one, its saved model is loaded first.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if req.ProjectID != "" {
		if err := h.ctrl.Activate(r.Context(), req.ProjectID); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	res, err := h.ctrl.Predict(r.Context(), req.Input, req.Resolve)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	found, err := h.ctrl.Load(r.Context(), req.ProjectID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", training.ErrModelNotFound, req.ProjectID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": true, "project_id": req.ProjectID})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status(r.Context()))
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, training.ErrInvalidProjectID),
		errors.Is(err, training.ErrInvalidUpload),
		errors.Is(err, engine.ErrUnknownModality),
		errors.Is(err, engine.ErrTooFewIntents),
		errors.Is(err, engine.ErrImageDecode),
		errors.Is(err, response.ErrTransform):
		return http.StatusBadRequest
	case errors.Is(err, training.ErrProjectNotFound),
		errors.Is(err, training.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoModelLoaded),
		errors.Is(err, registry.ErrTrainingInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrProviderNotReady),
		errors.Is(err, monitor.ErrInsufficientMemory):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
