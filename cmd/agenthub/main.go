// Package main is the entry point for the agenthub server.
// One process hosts the WebSocket gateway for devices and constellations
// plus the HTTP dispatch surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthub/agenthub/internal/api"
	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/httpmw"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/common/tracing"
	"github.com/agenthub/agenthub/internal/events"
	"github.com/agenthub/agenthub/internal/gateway"
	"github.com/agenthub/agenthub/internal/observability"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agenthub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agenthub...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory unless NATS is configured)
	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer busCleanup()
	eventBus := providedBus.Bus
	if providedBus.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// Metrics are derived from lifecycle events
	observer, err := observability.NewBusObserver(eventBus)
	if err != nil {
		return fmt.Errorf("failed to start metrics observer: %w", err)
	}
	defer observer.Close()

	// 4. Device overlay file (optional)
	overlays, err := registry.LoadOverlays(cfg.Hub.DevicesFile)
	if err != nil {
		return fmt.Errorf("failed to load device overlays: %w", err)
	}
	if len(overlays) > 0 {
		log.Info("Loaded device overlays",
			zap.String("path", cfg.Hub.DevicesFile),
			zap.Int("devices", len(overlays)))
	}

	// 5. Registry and session manager
	clientRegistry := registry.NewRegistry(overlays, log.WithComponent("registry"))
	sessions := session.NewManager(nil, clientRegistry, eventBus,
		cfg.Hub.SessionTimeoutDuration(), log.WithComponent("sessions"))
	defer sessions.Shutdown()

	// 6. WebSocket gateway
	gw := gateway.New(clientRegistry, sessions, eventBus, cfg.Hub, log)

	// 7. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "agenthub"))
	router.Use(httpmw.OtelTracing("agenthub"))

	router.GET("/ws", gw.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.SetupRoutes(router.Group("/api"), clientRegistry, sessions, eventBus, cfg.Hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindHost(), cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("api", "/api"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			log.Info("Shutting down agenthub...", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Stopping the HTTP server unwinds the connection handlers, which
		// run their normal disconnect cleanup.
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("Tracing shutdown error", zap.Error(err))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("agenthub stopped")
	return nil
}

// corsMiddleware allows the dispatch surface to be called cross-origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
