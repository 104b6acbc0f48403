package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"platform-sync/internal/api"
	"platform-sync/internal/config"
	"platform-sync/internal/services/relay"
	"platform-sync/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

func main() {
	log.Println("🚀 Starting Platform Sync relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first so the router and session manager pick up the provider.
	jaegerShutdown, err := telemetry.InitJaeger("platform-sync-relay", version, cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = telemetry.NoopShutdown
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		log.Println("✓ Prometheus metrics enabled")
	}

	sessionManager := relay.NewSessionManager(relay.Options{
		SendQueueSize: cfg.SendQueueSize,
		PingInterval:  cfg.PingInterval,
		PongTimeout:   cfg.PongTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, metrics)
	sessionManager.Start()

	wsHandler := relay.NewWebSocketHandler(sessionManager)
	handler := api.NewHandler(sessionManager, wsHandler, metricsHandler)
	router := api.SetupRoutes(handler)

	// No WriteTimeout: upgraded connections manage their own deadlines.
	addr := cfg.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Relay listening on %s", addr)
		log.Printf("   GET /ws           - presence websocket (also / with Upgrade)")
		log.Printf("   GET /api/health   - liveness and connection count")
		log.Printf("   GET /api/sessions - identified reviewers")
		if metricsHandler != nil {
			log.Printf("   GET /metrics      - prometheus metrics")
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Hijacked sockets are not covered by server.Shutdown.
	sessionManager.Shutdown()

	log.Println("✓ Relay shutdown complete")
}
