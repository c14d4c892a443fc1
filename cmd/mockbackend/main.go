// Command mockbackend serves a simulated contract processing backend: the
// REST API, the push channel and paced fake analysis pipelines.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/handler"
	"github.com/AnTengye/contractdesk/pkg/logger"
	"github.com/AnTengye/contractdesk/pkg/metrics"
	"github.com/AnTengye/contractdesk/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "path", *configPath)

	// Reports are archived to object storage only when it is configured
	var archive handler.ReportArchive
	if cfg.Minio.Endpoint != "" {
		reports, err := service.NewReportService(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize MINIO service", "error", err)
			os.Exit(1)
		}
		if err := reports.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure MINIO bucket", "error", err)
			os.Exit(1)
		}
		archive = reports
	}

	hub := handler.NewPushHub()
	contracts := handler.NewContractHandler(cfg, handler.DefaultTypeCatalog(), hub, archive)
	types := handler.NewContractTypeHandler(handler.DefaultTypeCatalog())

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg, contracts, types, hub, metrics.NewBackend())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "step_delay", cfg.Server.StepDelay())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	// Push connections are hijacked and not tracked by Shutdown
	hub.Close()
	contracts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
