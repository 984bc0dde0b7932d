package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/handler"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/pkg/config"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
	"github.com/pesio-ai/be-expense-approvals/pkg/middleware"
	"github.com/pesio-ai/be-expense-approvals/pkg/natsclient"
)

// stores bundles the persistence backends selected by STORE_DRIVER.
type stores struct {
	expenses  service.ExpenseStore
	directory service.DirectoryProvider
	policies  service.PolicyStore
	audit     service.AuditLog
	ready     func(ctx context.Context) error
	close     func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Expense Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer st.close()

	// Notifications
	var publisher client.Publisher
	if cfg.NATS.URL != "" {
		nc, err := natsclient.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		publisher = nc
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; notifications disabled")
	}
	notifier := client.NewNotificationPublisher(publisher, cfg.NATS.SubjectPrefix, log.Component("notifications").Logger)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	namespace := "expense_approvals"
	httpMetrics := middleware.NewHTTPMetrics(registry, namespace)
	workflowMetrics := service.NewMetrics(registry, namespace)

	// Initialize services
	approvalService := service.NewApprovalService(
		st.expenses, st.directory, st.policies, st.audit,
		notifier, workflowMetrics, log.Component("approvals"),
	)
	policyService := service.NewPolicyService(st.policies, st.directory, log.Component("policy"))

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, policyService, log)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		httpMetrics.Handler,
		middleware.Recovery(&log.Logger),
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)
	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Ready(st.ready))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	httpHandler.Routes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := handler.NewGRPCServer(log.Logger)
	handler.RegisterExpenseApprovalsServer(grpcServer.Server(), handler.NewGRPCHandler(approvalService, log.Logger))

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Server().Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()
	grpcServer.SetServing(true)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	var seed *repository.Seed
	if cfg.Store.SeedFile != "" {
		var err error
		if seed, err = repository.LoadSeed(cfg.Store.SeedFile); err != nil {
			return nil, err
		}
	}

	if cfg.Store.Driver == "memory" {
		st := &stores{
			expenses:  repository.NewMemoryExpenseStore(),
			directory: repository.NewMemoryDirectory(),
			policies:  repository.NewMemoryPolicyStore(nil),
			audit:     repository.NewMemoryAuditLog(),
			ready:     func(context.Context) error { return nil },
			close:     func() {},
		}
		if seed != nil {
			st.directory = repository.NewMemoryDirectory(seed.Users...)
			st.policies = repository.NewMemoryPolicyStore(seed.Policy)
		}
		log.Warn().Bool("seeded", seed != nil).Msg("Using in-memory store; data is lost on restart")
		return st, nil
	}

	if cfg.Database.Migrate {
		version, dirty, err := repository.Migrate(cfg.Database.MigrateURL())
		if err != nil {
			return nil, err
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Database migrations applied")
	}

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	policyRepo := repository.NewPolicyRepository(db)

	if seed != nil {
		if err := seed.Apply(ctx, userRepo, policyRepo); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply seed: %w", err)
		}
		log.Info().Int("users", len(seed.Users)).Bool("policy", seed.Policy != nil).Msg("Seed data applied")
	}

	return &stores{
		expenses:  repository.NewExpenseRepository(db),
		directory: userRepo,
		policies:  policyRepo,
		audit:     repository.NewApprovalAuditRepository(db),
		ready:     db.Ping,
		close:     db.Close,
	}, nil
}
