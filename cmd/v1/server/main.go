package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/api"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/config"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/handlers"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/health"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/media"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/middleware"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/ratelimit"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/rooms"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/store"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/tracing"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/transport"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Exit codes: 1 for bad configuration, 2 for media engine startup failure.
const (
	exitConfig = 1
	exitEngine = 2
)

func main() {
	// Load .env for local development; production relies on the environment.
	for _, path := range []string{".env", "../../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Initialize(true)
		logging.Error(context.Background(), "Environment validation failed", zap.Error(err))
		os.Exit(exitConfig)
	}

	logging.Initialize(cfg.Development)
	ctx := context.Background()
	logging.Info(ctx, "Configuration validated", zap.Any("config", cfg.Redacted()))

	// --- Tracing (optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, terr := tracing.InitTracer(ctx, "sfu-signaling", cfg.OTLPEndpoint)
		if terr != nil {
			logging.Warn(ctx, "Tracing disabled: failed to init exporter", zap.Error(terr))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Token validation ---
	var validator auth.TokenValidator
	if cfg.AuthDomain != "" {
		jwksValidator, verr := auth.NewJWKSValidator(ctx, cfg.AuthDomain, cfg.AuthAudience)
		if verr != nil {
			logging.Error(ctx, "Failed to initialize JWKS validator", zap.Error(verr))
			os.Exit(exitConfig)
		}
		validator = jwksValidator
	} else {
		hsValidator, verr := auth.NewValidator(cfg.APIKey, cfg.APISecret)
		if verr != nil {
			logging.Error(ctx, "Failed to initialize token validator", zap.Error(verr))
			os.Exit(exitConfig)
		}
		validator = hsValidator
	}
	minter := auth.NewMinter(cfg.APIKey, cfg.APISecret, cfg.TokenTTL)

	// --- State store ---
	var (
		stateStore  store.Store
		redisClient *redis.Client
		storePinger health.Pinger
	)
	if cfg.RedisEnabled {
		redisStore, serr := store.NewRedis(store.RedisConfig{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			OnBreakerChange: metrics.ObserveBreaker,
		})
		if serr != nil {
			logging.Error(ctx, "Failed to connect to Redis, falling back to memory store", zap.Error(serr))
			stateStore = store.NewMemory()
		} else {
			stateStore = redisStore
			storePinger = redisStore
			redisClient = redis.NewClient(&redis.Options{
				Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
			})
		}
	} else {
		stateStore = store.NewMemory()
	}

	// --- Media engine ---
	engine := media.NewLoopbackEngine(cfg.EngineWorkers)
	mediaRegistry := media.NewRegistry(engine, media.AdapterConfig{
		OpTimeout:      cfg.AdapterOpTimeout,
		CloseTimeout:   cfg.AdapterOpTimeout,
		SweepInterval:  cfg.AdapterSweepEvery,
		ResourceMaxAge: cfg.AdapterResourceTTL,
		AutoSweep:      true,
	})

	// Prove the engine can place a router before accepting traffic.
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	probe, eerr := engine.CreateRouter(probeCtx, "startup-probe")
	probeCancel()
	if eerr != nil {
		logging.Error(ctx, "Media engine failed to start", zap.Error(eerr))
		os.Exit(exitEngine)
	}
	_ = probe.Close()

	// --- Rooms and handlers ---
	roomManager := rooms.NewManager(rooms.Config{
		MaxRooms:               cfg.MaxRooms,
		MaxParticipantsPerRoom: cfg.MaxParticipantsPerRoom,
		CleanupGrace:           cfg.RoomCleanupGrace,
		CallOptions: calls.Options{
			AllowMultipleCalls: cfg.AllowMultipleCalls,
			GCInterval:         cfg.CallGCInterval,
			GCMaxAge:           cfg.CallGCMaxAge,
		},
		Store: stateStore,
		OnRoomClosed: func(cctx context.Context, sid types.RoomID) {
			if cerr := mediaRegistry.CloseRoom(cctx, sid); cerr != nil {
				logging.Warn(cctx, "Failed to cascade media teardown on room close",
					zap.String("roomSid", string(sid)), zap.Error(cerr))
			}
		},
	})

	service := handlers.NewService(roomManager, mediaRegistry, validator)
	registry := handlers.NewRegistry(service)

	limits, lerr := ratelimit.New(ratelimit.Config{
		API:    cfg.RateLimitAPI,
		WsIP:   cfg.RateLimitWsIP,
		WsUser: cfg.RateLimitWsUser,
	}, redisClient)
	if lerr != nil {
		logging.Error(ctx, "Failed to initialize rate limiter", zap.Error(lerr))
		os.Exit(exitConfig)
	}

	onDisconnect := func(ctx context.Context, c *transport.Client) { service.OnDisconnect(ctx, c) }
	hub := transport.NewHub(validator, registry, onDisconnect, limits, cfg.AllowedOrigins)

	// --- HTTP surface ---
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("sfu-signaling"))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(storePinger, nil)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	apiGroup := router.Group("/api")
	apiGroup.Use(limits.APIMiddleware())
	api.NewHandler(minter, roomManager, cfg.ICEServers).Register(apiGroup)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "Signaling server starting", zap.String("port", cfg.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logging.Error(ctx, "Server failed", zap.Error(serveErr))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown()
	roomManager.CloseAll(shutdownCtx)
	if merr := mediaRegistry.Close(shutdownCtx); merr != nil {
		logging.Warn(shutdownCtx, "Media registry shutdown reported errors", zap.Error(merr))
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logging.Error(shutdownCtx, "Server forced to shutdown", zap.Error(serr))
	}
	if cerr := stateStore.Close(); cerr != nil {
		logging.Warn(shutdownCtx, "Failed to close state store", zap.Error(cerr))
	}

	logging.Info(ctx, "Server exited")
}
