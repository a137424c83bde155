package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veranemoloko/mobile-transfer/internal/service"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up task routes, the event stream, health and version checks, and the
// Prometheus metrics endpoint.
func NewRouter(taskService TaskServiceI, engines service.Engines, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	taskHandler := NewTaskHandler(taskService, logger)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", taskHandler.ListTasks)
		r.Post("/backup", taskHandler.CreateBackup)
		r.Post("/restore", taskHandler.CreateRestore)
		r.Post("/install", taskHandler.CreateInstall)
		r.Get("/{taskID}", taskHandler.GetTask)
		r.Post("/{taskID}/cancel", taskHandler.CancelTask)
		r.Get("/{taskID}/events", taskHandler.TaskEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]map[string]string{
			"backup_engine": {
				"path":    engines.BackupPath,
				"version": engines.BackupVersion,
			},
			"install_engine": {
				"path":    engines.InstallPath,
				"version": engines.InstallVersion,
			},
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
