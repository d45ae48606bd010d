package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Operational, profile and navigation handlers
// ============================================================

// FeedStatus reports the realtime connection state.
type FeedStatus interface {
	Connected() bool
}

type healthResponse struct {
	Status   string                         `json:"status"`
	Realtime string                         `json:"realtime"`
	Stores   map[string]service.StoreStatus `json:"stores"`
	Checked  string                         `json:"checkedAt"`
}

// healthzHandler is always 200; degraded stores and a dropped realtime
// connection are reported in the body.
func healthzHandler(ws *service.Workspace, feed FeedStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "healthy",
			Realtime: "disabled",
			Stores:   map[string]service.StoreStatus{},
			Checked:  time.Now().UTC().Format(time.RFC3339),
		}
		if ws != nil {
			resp.Stores = ws.Status()
			for _, s := range resp.Stores {
				if s.Error != "" {
					resp.Status = "degraded"
					break
				}
			}
		}
		if feed != nil {
			resp.Realtime = "connected"
			if !feed.Connected() {
				resp.Realtime = "disconnected"
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func readyzHandler(ws *service.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ws != nil && !ws.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

func meHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /me")
		defer span.End()

		u, err := authSvc.Me(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// menuTreeHandler returns the navigation forest visible to the caller's roles.
func menuTreeHandler(ws *service.Workspace, authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /menu/tree")
		defer span.End()

		u, err := authSvc.Me(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tree := ws.MenuTree(u.Roles)
		if tree == nil {
			tree = []*domain.MenuItem{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tree})
	}
}
