/*
bkeytree REST API

REST interface onto the vault: block read/write/delete and key-management
derive/update/commit operations.

Version: 1.0.0
Host: localhost:8080
BasePath: /api/v1

SecurityDefinitions:
  - ApiKeyAuth:
    type: apiKey
    in: header
    name: X-API-Key

swagger:meta
*/
package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ssargent/bkeytree/pkg/vault"
)

// StartServer starts the HTTP server with all routes configured
func StartServer(v *vault.Vault, config ServerConfig) error {
	metrics := NewMetrics()

	systemService, err := NewSystemService(SystemConfig{
		DataDir:          config.DataDir,
		EncryptionKey:    config.SystemEncryptionKey,
		EnableEncryption: config.EnableEncryption,
	})
	if err != nil {
		return fmt.Errorf("create system service: %w", err)
	}
	if err := systemService.Open(); err != nil {
		return fmt.Errorf("open system service: %w", err)
	}

	server := NewServer(v, systemService, config, metrics)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(config.APIKey)))

		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", server.handleHealth))

		r.Put("/blocks/{id}", metrics.InstrumentHandler("PUT", "/api/v1/blocks/{id}", server.handleWriteBlock))
		r.Get("/blocks/{id}", metrics.InstrumentHandler("GET", "/api/v1/blocks/{id}", server.handleReadBlock))
		r.Delete("/blocks/{id}", metrics.InstrumentHandler("DELETE", "/api/v1/blocks/{id}", server.handleDeleteBlock))

		r.Post("/blocks/{id}/derive", metrics.InstrumentHandler("POST", "/api/v1/blocks/{id}/derive", server.handleDerive))
		r.Post("/blocks/{id}/update", metrics.InstrumentHandler("POST", "/api/v1/blocks/{id}/update", server.handleUpdate))
		r.Post("/commit", metrics.InstrumentHandler("POST", "/api/v1/commit", server.handleCommit))

		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", server.handleStats))

		r.Post("/system/api-keys", metrics.InstrumentHandler("POST", "/api/v1/system/api-keys", server.handleCreateAPIKey))
		r.Get("/system/api-keys", metrics.InstrumentHandler("GET", "/api/v1/system/api-keys", server.handleListAPIKeys))
		r.Get("/system/api-keys/{id}", metrics.InstrumentHandler("GET", "/api/v1/system/api-keys/{id}", server.handleGetAPIKey))
		r.Delete("/system/api-keys/{id}", metrics.InstrumentHandler("DELETE", "/api/v1/system/api-keys/{id}", server.handleDeleteAPIKey))

		r.Get("/system/config/{key}", metrics.InstrumentHandler("GET", "/api/v1/system/config/{key}", server.handleGetSystemConfig))
		r.Put("/system/config/{key}", metrics.InstrumentHandler("PUT", "/api/v1/system/config/{key}", server.handleSetSystemConfig))
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", config.Port)),
	))

	addr := fmt.Sprintf(":%d", config.Port)
	fmt.Printf("Starting bkeytree REST API server on %s\n", addr)
	fmt.Printf("Metrics available at: http://localhost:%d/metrics\n", config.Port)
	log.Fatal(http.ListenAndServe(addr, r))

	return nil
}
