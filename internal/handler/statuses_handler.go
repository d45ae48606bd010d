package handler

import (
	"net/http"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Statuses Handlers
// ============================================================

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func createStatusHandler(svc *service.StatusService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /statuses")
		defer span.End()

		var st domain.Status
		if !decodeJSON(w, r, &st) {
			return
		}
		created, err := svc.Create(ctx, st)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func setDefaultStatusHandler(svc *service.StatusService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /statuses/{id}/default")
		defer span.End()

		st, err := svc.SetDefault(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func reorderStatusesHandler(svc *service.StatusService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /statuses/reorder")
		defer span.End()

		var req reorderRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "ids é obrigatório")
			return
		}
		if err := svc.Reorder(ctx, req.IDs); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": len(req.IDs)})
	}
}
