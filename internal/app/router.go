package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-grc/aegis/internal/approval"
	"github.com/aegis-grc/aegis/internal/assignment"
	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/identity"
	"github.com/aegis-grc/aegis/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Identity          *identity.Service
	CatalogHandler    *catalog.Handler
	AssignmentHandler *assignment.Handler
	ApprovalHandler   *approval.Handler
	AuditHandler      *audit.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.Identity != nil {
			api.Use(params.Identity.Middleware)
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(api)
		}
		if params.AssignmentHandler != nil {
			api.Route("/users", params.AssignmentHandler.MountRoutes)
		}
		if params.ApprovalHandler != nil {
			api.Route("/approvals", params.ApprovalHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			api.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	return r
}
