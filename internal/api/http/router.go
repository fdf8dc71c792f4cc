package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/case-service/internal/api/http/handlers"
	"github.com/spec-kit/case-service/internal/auth"
	"github.com/spec-kit/case-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Cases          *handlers.CasesHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	cases := app.Group("/cases/:id", cfg.AuthMiddleware.Handle)
	cases.Post("/flows/create", cfg.Cases.CreateFlow)
	cases.Post("/flows/update", cfg.Cases.UpdateFlow)
	cases.Post("/flows/status", cfg.Cases.StatusFlow)
	cases.Post("/escalate", cfg.Cases.Escalate)
	cases.Post("/participants", cfg.Cases.AddParticipant)
	cases.Delete("/resources", cfg.Cases.DeleteResources)
	cases.Get("/events", cfg.Cases.ListEvents)
}
