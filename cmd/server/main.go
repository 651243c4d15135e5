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
	"github.com/matchcast/backend/config"
	"github.com/matchcast/backend/internal/auth"
	"github.com/matchcast/backend/internal/broadcast"
	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/database"
	"github.com/matchcast/backend/internal/events"
	"github.com/matchcast/backend/internal/handlers"
	"github.com/matchcast/backend/internal/ingest"
	"github.com/matchcast/backend/internal/logging"
	"github.com/matchcast/backend/internal/middleware"
	"github.com/matchcast/backend/internal/reaper"
	"github.com/matchcast/backend/internal/repository"
	"github.com/matchcast/backend/internal/websocket"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	ctx, cancel := signal.NotifyContext(logging.Context(logger), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := zerolog.Ctx(ctx)
	log.Info().Str("env", cfg.Server.Env).Bool("isProduction", cfg.IsProduction()).Send()

	// Broadcast store
	var (
		store repository.BroadcastStore
		db    *database.DB
	)
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using in-memory broadcast store, records are lost on restart")
		store = repository.NewMemoryBroadcastStore()
	default:
		var err error
		db, err = database.NewPostgresDB(ctx, cfg.GetDSN())
		if err != nil {
			return err
		}
		defer db.Close()

		log.Info().Msg("running database migrations")
		if err := database.RunMigrations(ctx, db.DB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = repository.NewBroadcastRepository(db)
	}

	// The credential registry lives in Redis, so Redis is required.
	redis, err := cache.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redis.Close()

	registry := cache.NewCredentialRegistry(redis, cache.RegistryOptions{
		DefaultTTL:     cfg.Ingest.StreamKeyTTL,
		ActivityMaxTTL: cfg.Ingest.ActivityMaxTTL,
	})

	// Lifecycle events
	redisPub := events.NewRedisPublisher(redis, cfg.Events.RedisChannel)
	publishers := events.Multi{redisPub}
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(ctx, cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			log.Error().Err(err).Msg("lifecycle events will not reach the notification exchange")
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
		}
	}

	// Services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	ingestService := ingest.NewService(store, registry, ingest.Options{
		PathPrefix: cfg.Ingest.PathPrefix,
		Events:     publishers,
	})
	manager := broadcast.NewManager(store, registry, broadcast.Options{
		CredentialTTL: cfg.Ingest.StreamKeyTTL,
		Events:        publishers,
	})
	rp := reaper.New(store, registry, reaper.Options{
		Interval:  cfg.Reaper.Interval,
		Threshold: cfg.Reaper.Threshold,
		Events:    publishers,
	})
	if cfg.Reaper.Enabled {
		if err := rp.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopped := rp.Stop()
			select {
			case <-stopped.Done():
			case <-time.After(10 * time.Second):
				log.Warn().Msg("reaper sweep still running at shutdown")
			}
		}()
	}

	hub := websocket.NewHub(redis, redisPub.Channel())
	go hub.Run(ctx)

	// Publish attempts are limited per stream key, admin calls per client IP.
	publishLimiter := middleware.NewRateLimiter(cfg.Ingest.RateLimitPerSec).WithShared(redis, "ingest_publish")
	publishLimiter.Cleanup(ctx, 5*time.Minute)
	adminLimiter := middleware.NewRateLimiter(cfg.Server.AdminRateLimitPerSec)
	adminLimiter.Cleanup(ctx, 5*time.Minute)

	// Handlers
	checks := map[string]handlers.Pinger{"redis": redis}
	if db != nil {
		checks["postgres"] = db
	}
	healthHandler := handlers.NewHealthHandler(checks)
	webhookHandler := handlers.NewWebhookHandler(ingestService, cfg.Ingest.ReadAccessAllowed, publishLimiter)
	broadcastHandler := handlers.NewBroadcastHandler(manager, rp)
	wsHandler := websocket.NewHandler(hub, jwtService, cfg.CORS.AllowedOrigins)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(*log))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", healthHandler.Health)
	router.GET("/ws/broadcasts", wsHandler.HandleWebSocket)

	// Media server callbacks
	webhookHandler.RegisterRoutes(router.Group("/hooks"), cfg.Ingest.WebhookSecret)

	// Admin API
	api := router.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(adminLimiter), middleware.AuthMiddleware(jwtService))
	broadcastHandler.RegisterRoutes(api)

	srv := &http.Server{
		Handler:           router,
		Addr:              ":" + cfg.Server.Port,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server shutdown")
	return nil
}
