package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/procura-erp/procura/internal/assignments"
	"github.com/procura-erp/procura/internal/auth"
	"github.com/procura-erp/procura/internal/externalpo"
	"github.com/procura-erp/procura/internal/ledger"
	"github.com/procura-erp/procura/internal/observability"
	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/rbac"
	"github.com/procura-erp/procura/internal/recon"
	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
	"github.com/procura-erp/procura/jobs"
)

// RouterParams carries the dependencies required to build the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	RBAC           *rbac.Middleware
	Metrics        *observability.Metrics

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	ReconHandler       *recon.Handler
	LedgerHandler      *ledger.Handler
	AssignmentsHandler *assignments.Handler
	ExternalPOHandler  *externalpo.Handler
	JobsHandler        *jobs.Handler
}

// NewRouter wires middleware and module routes into a chi router.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         p.Logger,
		Config:         p.Config,
		SessionManager: p.SessionManager,
	}) {
		r.Use(mw)
	}

	if p.Metrics != nil {
		r.Use(p.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		// Tighter limit on credential endpoints.
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		p.AuthHandler.MountRoutes(r)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(p.RBAC.ResolveUser)
		r.Use(rbac.Authenticated)

		p.UsersHandler.Mount(r)
		p.ReconHandler.Mount(r)
		p.LedgerHandler.Mount(r)
		p.AssignmentsHandler.Mount(r)
		p.ExternalPOHandler.Mount(r)

		if p.JobsHandler != nil {
			r.Route("/jobs", p.JobsHandler.MountRoutes)
		}
	})

	return r
}
