package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/quayside/keygate/internal/version"
)

// buildRouter assembles the three surfaces: /proxy (never authenticated),
// /api (JWT-gated when auth is enabled), and the operational endpoints.
func (a *Application) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(a.logger))

	r.Get("/health", a.handleHealth)
	r.Get("/version", a.handleVersion)
	r.Handle("/metrics", a.metrics.Handler())

	r.HandleFunc("/proxy/{upstream}", a.handleProxy)
	r.HandleFunc("/proxy/{upstream}/*", a.handleProxy)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.config.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			if a.config.Auth.Enabled {
				r.Use(a.auth.requireAuth)
			}

			r.Get("/auth/me", a.handleMe)
			r.Get("/dashboard", a.api.handleDashboard)
			r.Get("/logs", a.api.handleListLogs)
			r.Post("/scripts/test", a.api.handleTestScript)

			r.Route("/upstreams", func(r chi.Router) {
				r.Get("/", a.api.handleListUpstreams)
				r.Post("/", a.api.handleCreateUpstream)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", a.api.handleGetUpstream)
					r.Put("/", a.api.handleUpdateUpstream)
					r.Delete("/", a.api.handleDeleteUpstream)

					r.Get("/keys", a.api.handleListCredentials)
					r.Post("/keys", a.api.handleCreateCredential)
					r.Post("/keys/import", a.api.handleImportCredentials)

					r.Get("/headers", a.api.handleListHeaderConfigs)
					r.Post("/headers", a.api.handleCreateHeaderConfig)

					r.Get("/rules", a.api.handleListRules)
					r.Post("/rules", a.api.handleCreateRule)
				})
			})

			r.Route("/keys/{id}", func(r chi.Router) {
				r.Get("/", a.api.handleGetCredential)
				r.Put("/", a.api.handleUpdateCredential)
				r.Delete("/", a.api.handleDeleteCredential)
				r.Patch("/status", a.api.handleSetCredentialStatus)
			})

			r.Route("/headers/{id}", func(r chi.Router) {
				r.Get("/", a.api.handleGetHeaderConfig)
				r.Put("/", a.api.handleUpdateHeaderConfig)
				r.Delete("/", a.api.handleDeleteHeaderConfig)
			})

			r.Route("/rules/{id}", func(r chi.Router) {
				r.Get("/", a.api.handleGetRule)
				r.Put("/", a.api.handleUpdateRule)
				r.Delete("/", a.api.handleDeleteRule)
			})
		})
	})

	return r
}

func (a *Application) handleProxy(w http.ResponseWriter, r *http.Request) {
	upstreamName := chi.URLParam(r, "upstream")
	remainder := chi.URLParam(r, "*")
	a.proxy.Forward(w, r, upstreamName, remainder)
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Application) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    version.Name,
		"version": version.Version,
		"commit":  version.Commit,
	})
}
