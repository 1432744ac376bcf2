package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/config"
	"github.com/rynzz22/digital.talibon/internal/facade"
	"github.com/rynzz22/digital.talibon/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config        *config.Config
	Logger        *zap.Logger
	Authenticate  func(http.Handler) http.Handler
	ActorResolver *facade.ActorResolver
	Facades       *facade.Set
	Metrics       *observability.Metrics
	Readiness     observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.ActorResolver
	if resolver == nil {
		resolver = facade.NewActorResolver(nil, logger)
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(auth)
		r.Use(ResolveActor(resolver))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/me", handleMe)
		r.Get("/worklist/{kind}", handleWorklist(deps.Facades))

		r.Route("/records/{kind}", func(r chi.Router) {
			r.Post("/", handleOpen(deps.Facades, logger))
			r.Get("/{id}", handleGet(deps.Facades))
			r.Get("/{id}/actions", handleActions(deps.Facades))
			r.Post("/{id}/actions/{action}", handleInvoke(deps.Facades, logger))
			r.Get("/{id}/history", handleHistory(deps.Facades))
		})
	})

	return r
}
