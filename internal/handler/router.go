package handler

import (
	"net/http"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps are the services the router exposes.
type Deps struct {
	Workspace     *service.Workspace
	Auth          *service.AuthService
	Statuses      *service.StatusService
	Comments      *service.CommentService
	Users         *service.UserService
	Notifications *service.NotificationService
	// Feed is the realtime connection reported by /healthz; nil when disabled.
	Feed    FeedStatus
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Workspace, d.Feed))
	r.Get("/readyz", readyzHandler(d.Workspace))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/sync", syncMetricsHandler(d.Metrics))

		if d.Auth == nil || d.Workspace == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "serviço indisponível: Supabase não configurado")
			}))
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Auth, logger))
			c := d.Workspace.Catalog()

			r.Get("/me", meHandler(d.Auth, logger))
			r.Get("/menu/tree", menuTreeHandler(d.Workspace, d.Auth, logger))

			// Work items, with their comments and attachments.
			r.Route("/tickets", func(r chi.Router) {
				mountResource(r, service.TableTickets, c.Tickets, perCaller, workItemFilters, allWrites, logger)
				mountThread(r, service.TableTickets, d.Comments, logger)
			})
			r.Route("/admissions", func(r chi.Router) {
				mountResource(r, service.TableAdmissions, c.Admissions, perCaller, workItemFilters, allWrites, logger)
				mountThread(r, service.TableAdmissions, d.Comments, logger)
			})
			r.Route("/terminations", func(r chi.Router) {
				mountResource(r, service.TableTerminations, c.Terminations, perCaller, workItemFilters, allWrites, logger)
				mountThread(r, service.TableTerminations, d.Comments, logger)
			})
			r.Route("/leads", func(r chi.Router) {
				mountResource(r, service.TableLeads, c.Leads, perCaller, workItemFilters, allWrites, logger)
				mountThread(r, service.TableLeads, d.Comments, logger)
			})

			r.Route("/statuses", func(r chi.Router) {
				mountResource(r, service.TableStatuses, c.Statuses, shared, map[string]string{"scope": "scope"}, writes{update: true, remove: true}, logger)
				r.Post("/", createStatusHandler(d.Statuses, logger))
				r.Post("/reorder", reorderStatusesHandler(d.Statuses, logger))
				r.Post("/{id}/default", setDefaultStatusHandler(d.Statuses, logger))
			})

			r.Route("/menu-items", func(r chi.Router) {
				mountResource(r, service.TableMenuItems, c.MenuItems, shared, map[string]string{"parent": "parentId"}, allWrites, logger)
			})

			r.Route("/users", func(r chi.Router) {
				mountResource(r, service.TableUsers, c.Users, perCaller, nil, writes{update: true, locked: []string{"roles"}}, logger)
				admin := r.With(RequireRole(d.Auth, logger, domain.RoleAdmin))
				admin.Post("/", createUserHandler(d.Users, logger))
				admin.Delete("/{id}", deleteUserHandler(d.Users, logger))
				admin.Put("/{id}/roles", setUserRolesHandler(d.Users, logger))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", listNotificationsHandler(d.Notifications, logger))
				r.Get("/unread-count", unreadCountHandler(d.Notifications, logger))
				r.Post("/read-all", markAllNotificationsReadHandler(d.Notifications, logger))
				r.Post("/{id}/read", markNotificationReadHandler(d.Notifications, logger))
			})

			r.Patch("/comments/{id}", editCommentHandler(d.Comments, logger))
			r.Delete("/comments/{id}", deleteCommentHandler(d.Comments, logger))
			r.Delete("/attachments/{id}", deleteAttachmentHandler(d.Comments, logger))
			r.Get("/attachments/{id}/url", attachmentURLHandler(d.Comments, logger))
		})
	})

	return r
}

// mountThread registers the comment and attachment routes of one entity.
func mountThread(r chi.Router, table string, svc *service.CommentService, logger *zap.Logger) {
	r.Get("/{id}/comments", listCommentsHandler(table, svc, logger))
	r.Post("/{id}/comments", createCommentHandler(table, svc, logger))
	r.Get("/{id}/attachments", listAttachmentsHandler(table, svc, logger))
	r.Post("/{id}/attachments", uploadAttachmentHandler(table, svc, logger))
}
