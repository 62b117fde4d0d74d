// Package api wires the HTTP surface of the engine: event ingestion,
// template and policy management, run control, and health probes.
package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/delahq/dela/api/handlers"
	"github.com/delahq/dela/engine"
)

// NewRouter builds the API mux. health carries the readiness probes the
// caller registered.
func NewRouter(e *engine.Engine, health *handlers.HealthHandler, logger *zap.Logger) *http.ServeMux {
	events := handlers.NewEventsHandler(e, logger)
	templates := handlers.NewTemplatesHandler(e, logger)
	runs := handlers.NewRunsHandler(e, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", events.HandleIngest)
	mux.HandleFunc("GET /v1/steps", events.HandleSteps)

	mux.HandleFunc("GET /v1/templates", templates.HandleList)
	mux.HandleFunc("GET /v1/templates/{id}", templates.HandleGet)
	mux.HandleFunc("POST /v1/templates/{id}/mode", templates.HandleSetMode)
	mux.HandleFunc("POST /v1/templates/{id}/decline", templates.HandleDecline)
	mux.HandleFunc("POST /v1/templates/{id}/disable", templates.HandleDisable)
	mux.HandleFunc("GET /v1/entities/{id}/related", templates.HandleRelated)

	mux.HandleFunc("POST /v1/runs", runs.HandleStart)
	mux.HandleFunc("GET /v1/runs/{id}", runs.HandleGet)
	mux.HandleFunc("POST /v1/runs/{id}/approve", runs.HandleApprove)
	mux.HandleFunc("POST /v1/runs/{id}/reject", runs.HandleReject)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", runs.HandleCancel)

	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReadyz)

	return mux
}
