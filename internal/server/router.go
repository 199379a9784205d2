// Package server wires the HTTP API.
package server

import (
	"net/http"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/handlers"
	"github.com/maruel/checkform/internal/server/metrics"
	"github.com/maruel/checkform/internal/server/ratelimit"
)

// Config configures the router.
type Config struct {
	Version string
	// JWTSecret enables bearer token authentication when set.
	JWTSecret     []byte
	MaxBodyBytes  int64
	RecountPolicy forms.RecountPolicy
	// Limiters and Metrics are optional.
	Limiters *ratelimit.Config
	Metrics  *metrics.Metrics
}

// NewRouter creates and configures the HTTP router.
func NewRouter(stores handlers.Stores, cfg *Config) http.Handler {
	wc := &wrapConfig{
		jwtSecret:    cfg.JWTSecret,
		maxBodyBytes: cfg.MaxBodyBytes,
		limiters:     cfg.Limiters,
		metrics:      cfg.Metrics,
	}
	health := handlers.NewHealthHandler(cfg.Version)
	fields := handlers.NewFieldHandler(stores)
	responses := handlers.NewResponseHandler(stores, cfg.Metrics)
	submit := handlers.NewSubmitHandler(stores, cfg.RecountPolicy, cfg.Metrics)

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", Wrap(health.Health, wc))
	mux.Handle("GET /api/v1/schema", Wrap(handlers.Schema, wc))

	// Field definitions
	mux.Handle("GET /api/v1/tasks/{taskID}/fields", WrapAuth(fields.ListFields, wc))
	mux.Handle("POST /api/v1/tasks/{taskID}/fields", WrapAuth(fields.CreateField, wc))
	mux.Handle("POST /api/v1/tasks/{taskID}/fields/bulk", WrapAuth(fields.BulkCreateFields, wc))
	mux.Handle("PATCH /api/v1/fields/{id}", WrapAuth(fields.UpdateField, wc))
	mux.Handle("DELETE /api/v1/fields/{id}", WrapAuth(fields.DeleteField, wc))

	// Responses
	mux.Handle("POST /api/v1/checklist-items/{itemID}/responses", WrapAuth(responses.SubmitResponses, wc))
	mux.Handle("GET /api/v1/responses", WrapAuth(responses.ListResponses, wc))
	mux.Handle("POST /api/v1/tasks/{taskID}/checklist-items/{itemID}/submit", WrapAuth(submit.SubmitForm, wc))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponseWithCode(w, http.StatusNotFound, models.ErrorCodeNotFound, "no route for "+r.Method+" "+r.URL.Path, nil)
	})
	return requestLogger(mux, cfg.Metrics)
}
