package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

type partialReorderResponse struct {
	Error     string `json:"error"`
	Committed int    `json:"committed"`
	Total     int    `json:"total"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "JSON inválido: "+err.Error())
		return false
	}
	return true
}

// readState shapes a direct repository read like a store snapshot: a read
// failure is reported in the error slot with a 200, never as an HTTP error.
func readState[T any](items []T, err error) entity.State[T] {
	if items == nil {
		items = []T{}
	}
	s := entity.State[T]{Items: items}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict
	var partial *domain.ErrPartialReorder
	var backend *domain.ErrBackend
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &partial):
		logger.Warn("partial reorder",
			zap.Int("committed", partial.Committed),
			zap.Int("total", partial.Total),
			zap.Error(partial.Err),
		)
		writeJSON(w, http.StatusConflict, partialReorderResponse{
			Error:     err.Error(),
			Committed: partial.Committed,
			Total:     partial.Total,
		})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &backend):
		// The backend's own status and error object pass through unchanged.
		status := backend.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		logger.Warn("backend error",
			zap.Int("status", backend.Status),
			zap.String("code", backend.Code),
			zap.String("message", backend.Message),
		)
		writeJSON(w, status, errorResponse{
			Error:   backend.Message,
			Code:    backend.Code,
			Details: backend.Details,
			Hint:    backend.Hint,
		})
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
