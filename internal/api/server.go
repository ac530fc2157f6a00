package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/matteo/erphost/internal/api/handler"
	mw "github.com/matteo/erphost/internal/api/middleware"
	"github.com/matteo/erphost/internal/config"
	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/orchestrator"
)

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	corePool       *pgxpool.Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, coreDB *pgxpool.Pool, temporalClient temporalclient.Client, orch orchestrator.Client, cfg *config.Config) *Server {
	services := core.NewServices(coreDB, temporalClient, orch, core.ServicesConfig{
		DefaultPoolCapacity: cfg.DefaultPoolCapacity,
	})

	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		corePool:       coreDB,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.cfg.AdminAPIKeyHash))

		// Instances
		instance := handler.NewInstance(s.services.Instance, s.services.Backup)
		r.Get("/instances", instance.List)
		r.Post("/instances", instance.Create)
		r.Get("/instances/{id}", instance.Get)
		r.Post("/instances/{id}/actions", instance.Action)
		r.Post("/instances/{id}/migrate-dedicated", instance.MigrateDedicated)
		r.Get("/instances/{id}/backups", instance.ListBackups)

		// Backups
		backup := handler.NewBackup(s.services.Backup)
		r.Get("/backups/{id}", backup.Get)

		// Database allocation and server provisioning
		allocation := handler.NewAllocation(s.services.Allocator)
		r.Post("/allocations", allocation.Allocate)
		r.Post("/db-servers/pools", allocation.ProvisionPool)
		r.Post("/db-servers/dedicated", allocation.ProvisionDedicated)

		// Database server registry
		dbserver := handler.NewDBServer(s.services.DBServer)
		r.Get("/db-servers", dbserver.List)
		r.Get("/db-servers/{id}", dbserver.Get)

		// Aggregate stats
		stats := handler.NewStats(s.services.Stats)
		r.Get("/stats", stats.Get)

		// Billing collaborator webhook
		r.Post("/webhooks/billing", instance.BillingWebhook)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.corePool.Ping(ctx); err != nil {
		checks["core_db"] = err.Error()
		healthy = false
	} else {
		checks["core_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(checks)
}
