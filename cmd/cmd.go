package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"couple-cook-backend/internal/config"
	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/handlers"
	"couple-cook-backend/internal/identity"
	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/repository"
	"couple-cook-backend/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Open document store
	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open document store")
	}
	defer closeStore()

	// Initialize repositories
	userRepo := repository.NewUserRepository(store)
	partnershipRepo := repository.NewPartnershipRepository(store)
	recipeRepo := repository.NewRecipeRepository(store, cfg.Storage.QueryBatchSize)

	// Initialize notifications
	var pusher services.Pusher = services.NoopPusher{}
	if cfg.APNs.KeyPath != "" {
		apns, err := services.NewAPNsPusher(cfg.APNs.KeyPath, cfg.APNs.KeyID, cfg.APNs.TeamID, cfg.APNs.Topic, cfg.APNs.Production)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		pusher = apns
	} else {
		log.Warn().Msg("APNs key not configured, push notifications disabled")
	}
	wsHub := services.NewWSHub()
	notifier := services.NewDispatcher(wsHub, pusher, userRepo)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	partnershipService := services.NewPartnershipService(userRepo, partnershipRepo, notifier, cfg.Partnership.InviteMaxAttempts)
	recipeService := services.NewRecipeService(userRepo, recipeRepo, notifier)

	var imageHandler *handlers.ImageHandler
	if cfg.AWS.S3Bucket != "" {
		imageService, err := services.NewImageService(
			cfg.AWS.Region,
			cfg.AWS.S3Bucket,
			cfg.AWS.AccessKey,
			cfg.AWS.SecretKey,
			cfg.AWS.Endpoint,
			cfg.AWS.PublicURL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create image service")
		}
		imageHandler = handlers.NewImageHandler(imageService)
	} else {
		log.Warn().Msg("S3 bucket not configured, image uploads disabled")
	}

	joinLimit, err := middleware.NewIPRateLimiter(cfg.RateLimit.Join)
	if err != nil {
		log.Fatal().Err(err).Str("rate", cfg.RateLimit.Join).Msg("Invalid join rate limit")
	}

	// Setup router
	router := handlers.NewRouter(handlers.RouterConfig{
		User:        handlers.NewUserHandler(userService, identity.NewJWTVerifier(cfg.Identity.Secret, cfg.Identity.Issuer, cfg.Identity.Audience)),
		Partnership: handlers.NewPartnershipHandler(partnershipService, userService),
		Recipe:      handlers.NewRecipeHandler(recipeService),
		Image:       imageHandler,
		WebSocket:   handlers.NewWebSocketHandler(wsHub, userService),
		Tokens:      userService,
		JoinLimit:   joinLimit,
		Metrics:     true,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("storage", cfg.Storage.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown
	wsHub.Close()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Pushes still in flight are each bounded by their own timeout
	notifier.Wait()

	log.Info().Msg("Server exited")
}

// openStore builds the configured document store, wrapped in the read cache
// when enabled. The returned func releases everything it opened.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
	var (
		store   docstore.Store
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory document store, data is lost on restart")
		store = docstore.NewMemoryStore()
	default:
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)

		if err := db.Ping(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info().Msg("Database connection established")

		pg := docstore.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		store = pg
	}

	if cfg.Storage.Cache.Enabled {
		cache, err := docstore.OpenCache()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := cache.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close cache")
			}
		})
		store = docstore.NewCachedStore(store, cache, cfg.Storage.Cache.TTL)
		log.Info().Dur("ttl", cfg.Storage.Cache.TTL).Msg("Document read cache enabled")
	}

	return store, closeAll, nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
