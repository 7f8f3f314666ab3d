package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/server"
	"github.com/raaihank/phi-guard/internal/service"
	"github.com/raaihank/phi-guard/internal/store"
	"github.com/raaihank/phi-guard/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit (e.g. http://localhost:8080)")
		watch       = flag.Bool("watch", true, "Reload tenant policies when the config file changes")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("PHI Guard %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PHI Guard",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenants, err := config.NewTenantProvider(cfg)
	if err != nil {
		log.Fatal("Invalid tenant configuration", zap.Error(err))
	}

	if *watch {
		err := config.Watch(log, func(next *config.Config) {
			if err := tenants.Update(next); err != nil {
				log.Error("Failed to apply reloaded tenant policies", zap.Error(err))
				return
			}
			log.Info("Tenant policies reloaded", zap.Int("tenants", tenants.Tenants()))
		})
		if err != nil {
			log.Debug("Config watch not started", zap.Error(err))
		}
	}

	mappings, err := store.New(cfg.Store, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to open mapping store", zap.Error(err))
	}
	defer mappings.Close()
	go store.RunPurger(ctx, mappings, cfg.Store.PurgeInterval, log.WithComponent("store").Logger)

	var (
		sinks service.MultiSink
		hub   *websocket.Hub
	)
	if cfg.Audit.Enabled {
		if cfg.Audit.LogEvents {
			sinks = append(sinks, service.NewLogSink(log))
		}
		if cfg.Audit.WebSocket.Enabled {
			hub = websocket.NewHub(cfg.Audit.WebSocket, log.Logger)
			go hub.Run(ctx)
			sinks = append(sinks, hub)
		}
	}

	redactor := privacy.NewRedactor(privacy.NewDetector(privacy.DefaultCatalog(), log.WithComponent("privacy")))
	svc := service.New(redactor, mappings, log, service.Options{
		OpTimeout: cfg.Store.OpTimeout,
		Audit:     sinks,
	})

	srv := server.New(cfg, log, svc, tenants, hub)

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		if hub != nil {
			hub.BroadcastStatus("shutting_down")
		}

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
