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

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meshcall/internal/core/services"
	handlers "meshcall/internal/handlers/http"
	presence "meshcall/internal/infrastructure/distributed"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/internal/infrastructure/repositories"
	gateway "meshcall/internal/infrastructure/signal"
	"meshcall/internal/infrastructure/signaling"
	rtcinfra "meshcall/internal/infrastructure/webrtc"
	"meshcall/pkg/config"
	"meshcall/pkg/distributed"
	rlog "meshcall/pkg/logger"
	"meshcall/pkg/retry"
	"meshcall/pkg/tracing"
	"meshcall/pkg/utils"
)

const migrationLockKey = "meshcall:migrations"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zlog := rlog.New(cfg.Logging.Level)
	defer zlog.Sync()
	logger := zlog.Sugar()

	logger.Infow("starting meshcall signal server",
		"address", cfg.Server.Address,
		"redis", cfg.Redis.Address,
		"postgres_enabled", cfg.Postgres.Enabled,
		"jwt_secret", utils.MaskSensitive(cfg.Auth.JWTSecret, 4),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meshcall",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(shutdownCtx)
	}()

	redisClient, err := signaling.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	retryCfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  cfg.Signaling.SubscribeRetries,
		InitialDelay: cfg.Signaling.SubscribeBackoff,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	bus := signaling.NewRedisBus(redisClient, retryCfg, logger)

	// Migrations run inside the factory; serialize them across nodes so
	// concurrent rollouts do not race on schema changes.
	var migrationLock *distributed.DistributedLock
	if cfg.Postgres.Enabled {
		migrationLock = distributed.NewDistributedLock(redisClient, migrationLockKey, 60*time.Second)
		if err := migrationLock.LockWithTimeout(ctx, 30*time.Second); err != nil {
			logger.Fatalw("failed to acquire migration lock", "error", err)
		}
	}

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, logger)
	if migrationLock != nil {
		if unlockErr := migrationLock.Unlock(ctx); unlockErr != nil {
			logger.Warnw("failed to release migration lock", "error", unlockErr)
		}
	}
	if err != nil {
		logger.Fatalw("failed to initialize repositories", "error", err)
	}
	defer repoFactory.Close()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	callService := services.NewCallService(
		repoFactory.CreateCallRepository(),
		repoFactory.CreateCallLogRepository(),
		cfg.Calls.PollInterval,
		logger,
	)
	groupService := services.NewGroupCallService(
		repoFactory.CreateGroupCallRepository(),
		bus,
		logger,
	)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	rtcConfig := rtcinfra.Config{
		ICEServers:         iceServers(cfg),
		OfferFallbackDelay: cfg.Signaling.OfferFallbackDelay,
	}
	rtcConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	rtcConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	linkFactory := rtcinfra.NewLinkFactory(rtcConfig, bus, metrics, logger)
	mediaProvider := rtcinfra.NewStaticProvider()

	gw := gateway.NewGateway(
		callService,
		groupService,
		mediaProvider,
		linkFactory,
		bus,
		cfg.Calls.RingTimeout,
		cfg.Calls.PollInterval,
		metrics,
		logger,
	)

	instanceID, err := os.Hostname()
	if err != nil {
		instanceID = utils.GenerateID("node")
	}
	presenceRegistry := presence.NewPresenceRegistry(redisClient, instanceID, logger)
	if err := presenceRegistry.CleanupInstance(ctx, instanceID); err != nil {
		logger.Warnw("failed to clean up stale presence entries", "error", err)
	}
	gw.SetPresence(presenceRegistry)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}, 15*time.Second, 3*time.Second)
	healthChecker.AddCheck("repositories", repoFactory.HealthCheck, 15*time.Second, 3*time.Second)
	healthChecker.StartBackgroundChecks(ctx)

	callHandler := handlers.NewCallHandler(callService, groupService)
	defer callHandler.Close()

	router := setupRouter(cfg, logger, authService, callHandler, gw, presenceRegistry, healthChecker)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infow("listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}

func setupRouter(
	cfg *config.Config,
	logger *zap.SugaredLogger,
	authService services.AuthService,
	callHandler *handlers.CallHandler,
	gw *gateway.Gateway,
	presenceRegistry *presence.PresenceRegistry,
	healthChecker *monitoring.HealthChecker,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	if cfg.RateLimiting.Enabled {
		router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	}

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.Status()
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// WebSocket clients authenticate per-intent; the socket itself is
	// established with the user_id query parameter.
	router.GET("/ws", gin.WrapF(gw.HandleWebSocket))

	authHandler := handlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	authHandler.SetupRoutes(router)

	presenceHandler := handlers.NewPresenceHandler(presenceRegistry)
	api := router.Group("/api/v1", middleware.AuthMiddleware(authService))
	callHandler.SetupRoutes(api)
	api.GET("/users/:id/presence", presenceHandler.GetPresence)

	return router
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}
