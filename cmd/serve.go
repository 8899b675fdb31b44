package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"photoquota/internal/auth"
	"photoquota/internal/handler"
)

const monitoringHealthService = "photoquota.monitoring"

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(monitoringHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	a.monitor.OnStateChange(func(running bool) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if running {
			status = healthpb.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus(monitoringHealthService, status)
	})

	if cfg.Monitoring.AutoStart {
		a.monitor.StartMonitoring()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	errCh := make(chan error, 2)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Server.GRPCPort))
		if err != nil {
			errCh <- fmt.Errorf("failed to listen for gRPC: %w", err)
			return
		}
		log.Info().Str("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down servers")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	a.monitor.StopMonitoring(shutdownCtx)
	healthServer.Shutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server forced to shutdown")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server exited properly")
	return runErr
}

func newRouter(a *app) http.Handler {
	quotaHandler := handler.NewStorageQuotaHandler(a.quotas, a.admission)
	uploadHandler := handler.NewUploadHandler(a.admission, a.sessionRepo, a.store, a.usageLog, a.quotas)
	webhookHandler := handler.NewBillingWebhookHandler(a.cfg.Billing.StripeWebhookSecret, a.reconciler)
	monitoringHandler := handler.NewMonitoringHandler(a.monitor)
	billingHandler := handler.NewBillingHandler(a.subRepo, a.historyRepo, a.quotaRepo)

	checks := map[string]handler.Pinger{"database": a.db}
	if a.usageCache != nil {
		checks["redis"] = handler.PingFunc(a.usageCache.Ping)
	}
	healthHandler := handler.NewHealthHandler(checks)
	gateway := auth.NewGateway(a.cfg.Server.GatewaySecret)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.HeaderUploadSize},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		// Stripe authenticates with its signature, not the gateway headers.
		r.Method(http.MethodPost, "/billing/stripe/webhook", webhookHandler)

		r.Group(func(r chi.Router) {
			r.Use(gateway.Middleware)

			r.Route("/quota", func(r chi.Router) {
				r.Get("/", quotaHandler.GetQuotaInfo)
				r.Post("/check", quotaHandler.CheckUpload)
			})

			r.Get("/billing", billingHandler.GetBillingOverview)

			r.Route("/sessions/{sessionID}/{kind}/files", func(r chi.Router) {
				r.Post("/", uploadHandler.UploadFiles)
				r.Delete("/{filename}", uploadHandler.DeleteFile)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(handler.RequireAdmin(a.admission))

				r.Get("/monitoring/dashboard", monitoringHandler.Dashboard)
				r.Post("/monitoring/start", monitoringHandler.Start)
				r.Post("/monitoring/stop", monitoringHandler.Stop)
				r.Post("/monitoring/alerts/{alertID}/resolve", monitoringHandler.ResolveAlert)
				r.Get("/users/{userID}/quota", quotaHandler.AdminGetUserQuota)
				r.Post("/users/{userID}/recalculate", quotaHandler.AdminRecalculate)
				r.Get("/users/{userID}/billing", billingHandler.AdminGetUserBilling)
			})
		})
	})

	return r
}
