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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roomcast/internal/core/services"
	httphandlers "roomcast/internal/handlers/http"
	"roomcast/internal/infrastructure/distributed"
	"roomcast/internal/infrastructure/mediaengine"
	"roomcast/internal/infrastructure/middleware"
	"roomcast/internal/infrastructure/monitoring"
	wssignal "roomcast/internal/infrastructure/signal"
	"roomcast/pkg/config"
	"roomcast/pkg/logger"
	"roomcast/pkg/retry"
	"roomcast/pkg/tracing"
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling server",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("config", "configs/roomcast.yaml", "Path to the YAML configuration file")
	serveCmd.Flags().String("listen", "", "TCP listen address, overrides server.address")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn or error), overrides logging.level")
	serveCmd.Flags().Bool("with-deadlock-detector", false, "Enable deadlock detection, overrides debug.deadlock_detector")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Address = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if cmd.Flags().Changed("with-deadlock-detector") {
		cfg.Debug.DeadlockDetector, _ = cmd.Flags().GetBool("with-deadlock-detector")
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	deadlock.Opts.Disable = !cfg.Debug.DeadlockDetector
	deadlock.Opts.DeadlockTimeout = cfg.Debug.DeadlockTimeout
	if !deadlock.Opts.Disable {
		log.Warnw("Enabled automatic deadlock detector", "timeout", cfg.Debug.DeadlockTimeout)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "roomcast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}

	engine, err := mediaengine.New(cfg.MediaEngineConfig(), log.Named("media"))
	if err != nil {
		return fmt.Errorf("failed to start media engine: %w", err)
	}

	collector := monitoring.NewPrometheusCollector(nil)
	sinks := services.MultiSink{collector}
	health := monitoring.NewHealthChecker()
	health.AddMediaEngineCheck(engine.Closed, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		redisClient *redis.Client
		bus         *distributed.EventBus
	)
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(ctx, distributed.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, retry.DefaultConfig(), log.Named("redis"))
		if err != nil {
			_ = engine.Close()
			return err
		}
		health.AddRedisCheck(redisClient, 2*time.Second)

		busCfg := distributed.DefaultEventBusConfig()
		busCfg.Channel = cfg.Redis.Channel
		busCfg.InstanceID = uuid.NewString()
		bus = distributed.NewEventBus(redisClient, busCfg, log.Named("events"))
		bus.OnDrop = collector.RecordPublishFailure
		sinks = append(sinks, bus)

		go subscribeRemoteEvents(ctx, bus, log)
	}

	directory := services.NewRoomDirectory(engine, cfg.Media.Codecs, sinks, log.Named("rooms"))

	wsServer := wssignal.NewWebSocketServer(directory, wssignal.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		RequestTimeout:    cfg.Signal.RequestTimeout,
		SendQueueSize:     cfg.Signal.SendQueueSize,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MaxConnections:    limitIf(cfg.RateLimiting.Enabled, cfg.RateLimiting.WebSocket.MaxConcurrent),
		MessagesPerSecond: limitIf(cfg.RateLimiting.Enabled, cfg.RateLimiting.WebSocket.MessagesPerSecond),
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}, collector, zapLogger.Named("signal"))

	router := newRouter(cfg, zapLogger, wsServer, directory, health)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout does not apply to hijacked websocket connections.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting roomcast server", "address", cfg.Server.Address, "signal_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("Server failed", "error", runErr)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down roomcast server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during HTTP server shutdown", "error", err)
		_ = srv.Close()
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing signaling connections", "error", err)
	}
	directory.Close()
	if err := engine.Close(); err != nil {
		log.Errorw("Error closing media engine", "error", err)
	}

	cancel()
	if bus != nil {
		_ = bus.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing Redis client", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("Roomcast server stopped")
	return runErr
}

func limitIf[T int | float64](enabled bool, v T) T {
	if !enabled {
		return 0
	}
	return v
}

func newRouter(cfg *config.Config, zapLogger *zap.Logger, wsServer *wssignal.WebSocketServer, directory *services.RoomDirectory, health *monitoring.HealthChecker) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zapLogger.Sugar()

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger.Named("http"))),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	// The websocket endpoint limits per connection, not per request.
	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("", middleware.NewHTTPRateLimitMiddleware(cfg), middleware.ErrorHandlerMiddleware(log))
	httphandlers.NewRoomHandler(directory).SetupRoutes(api)

	return router
}

func subscribeRemoteEvents(ctx context.Context, bus *distributed.EventBus, log *zap.SugaredLogger) {
	err := bus.Subscribe(ctx, func(event distributed.Event) {
		log.Debugw("Room event from peer instance",
			"instance_id", event.InstanceID,
			"type", event.Type,
			"room_id", event.RoomID,
			"peer_id", event.PeerID,
		)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warnw("Event subscription ended", "error", err)
	}
}
