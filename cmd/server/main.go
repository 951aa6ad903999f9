package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kitaabse-pipeline/internal/config"
	"kitaabse-pipeline/internal/handler"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wiring
	container, err := config.NewContainer(ctx, config.NewConfig())
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer container.Close()
	cfg := container.Config

	// Handlers
	bookHandler := handler.NewBookHandler(
		container.UploadService,
		container.Pipeline,
		container.ProgressReporter,
		container.DocumentRepository,
		cfg.Queued(),
		cfg.MaxFileSize,
		cfg.MaxCoverSize,
		container.Logger,
	)
	authMiddleware := handler.NewAuthMiddleware(container.AuthService, container.Logger)

	// Router
	router := handler.NewRouter(
		handler.NewAuthHandler(),
		bookHandler,
		authMiddleware.Middleware,
		cfg.AllowedOrigins,
	)

	server := &http.Server{
		Addr:              ":" + cfg.GetServerPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background work shares the process unless a separate worker is deployed.
	var background sync.WaitGroup
	if cfg.EmbeddedWorker {
		background.Add(2)
		go func() {
			defer background.Done()
			_ = container.Worker.Run(ctx)
		}()
		go func() {
			defer background.Done()
			container.Sweeper.Run(ctx, cfg.SweepInterval)
		}()
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening",
			"address", server.Addr,
			"mode", cfg.PipelineMode,
			"extraction", container.Extractor.Name(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	container.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown failed", err)
	}
	background.Wait()

	container.Logger.Info("Server exited")
}
