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

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/insurance-eligibility/backend/internal/adapters/cache"
	"github.com/zatekoja/insurance-eligibility/backend/internal/adapters/database"
	"github.com/zatekoja/insurance-eligibility/backend/internal/adapters/events"
	"github.com/zatekoja/insurance-eligibility/backend/internal/adapters/providers/authz"
	"github.com/zatekoja/insurance-eligibility/backend/internal/api/handlers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/api/routes"
	"github.com/zatekoja/insurance-eligibility/backend/internal/application/services"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/insurerapi"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	"github.com/zatekoja/insurance-eligibility/backend/migrations"
	"github.com/zatekoja/insurance-eligibility/backend/pkg/config"
	"github.com/zatekoja/insurance-eligibility/backend/pkg/secrets"
)

func main() {
	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets are exported to the environment before config is read
	vaultResult, err := secrets.ApplyVaultSecrets(ctx, secrets.LoadVaultConfigFromEnv(""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from Vault")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)
	logger := observability.GetLogger()
	if vaultResult.Enabled {
		logger.Info().
			Str("path", vaultResult.Path).
			Int("loaded", vaultResult.Loaded).
			Int("skipped", vaultResult.Skipped).
			Msg("Vault secrets applied")
	}

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Msg("OpenTelemetry initialized successfully")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	// Initialize database client
	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	if cfg.Database.AutoMigrate {
		applied, err := pgClient.Migrate(ctx, migrations.FS)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to apply database migrations")
		}
		logger.Info().Int("applied", applied).Msg("Database schema up to date")
	}

	// Initialize Redis client
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Redis client")
	}
	defer redisClient.Close()

	// Initialize adapters
	eligibilityCache := cache.NewEligibilityCache(cache.NewRedisAdapter(redisClient), cfg.Eligibility.CacheTTL, metrics)
	checkRepo := database.NewEligibilityCheckAdapter(pgClient)
	patients := database.NewPatientAdapter(pgClient)
	permissions := authz.NewStaticPermissionChecker(map[string][]string{
		providers.PermissionOverrideEligibility: cfg.Eligibility.OverrideApprovers,
		providers.PermissionManualVerification:  cfg.Eligibility.ManualVerifiers,
	})

	// Initialize event bus
	var eventBus providers.EventBus
	var eligibilityOpts []services.EligibilityServiceOption
	var overrideOpts []services.OverrideServiceOption
	var sseHandler *handlers.SSEHandler
	if cfg.Eligibility.EventsEnabled {
		eventBus = events.NewRedisEventBus(redisClient)
		eligibilityOpts = append(eligibilityOpts, services.WithEventPublisher(eventBus))
		overrideOpts = append(overrideOpts, services.WithOverrideEventPublisher(eventBus))
		sseHandler = handlers.NewSSEHandler(eventBus)
	}

	// Initialize insurer client
	insurer := insurerapi.NewClient(&cfg.Insurer, insurerapi.WithMetrics(metrics))
	var retryOpts []insurerapi.RetryOption
	if cfg.Insurer.BreakerEnabled {
		retryOpts = append(retryOpts, insurerapi.WithBreaker("insurer", cfg.Insurer.BreakerFailures, cfg.Insurer.BreakerCooldown))
	}
	retryingInsurer := insurerapi.NewRetryingClient(insurer, insurerapi.RetryPolicy(&cfg.Insurer), retryOpts...)

	// Initialize services
	eligibilityService := services.NewEligibilityService(
		checkRepo,
		retryingInsurer,
		eligibilityCache,
		insurer.Classifier(),
		services.EligibilityServiceConfig{
			VerifyTimeout:  cfg.Eligibility.VerifyTimeout,
			DedupeInFlight: cfg.Eligibility.DedupeInFlight,
			Location:       insurer.Location(),
		},
		append(eligibilityOpts,
			services.WithPatientLookup(patients),
			services.WithServiceMetrics(metrics),
		)...,
	)
	overrideOpts = append(overrideOpts, services.WithOverrideLocation(insurer.Location()))
	overrideService := services.NewOverrideService(checkRepo, permissions, cfg.Eligibility.OverrideMinReason, overrideOpts...)

	// Initialize handlers and router
	eligibilityHandler := handlers.NewEligibilityHandler(eligibilityService, overrideService)
	router := routes.NewRouter(eligibilityHandler, sseHandler, cfg.Server.AllowedOrigins, metrics)

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Eligibility.VerifyTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Server shutting down...")

	// In-flight verifications finish and record their history before exit
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}

	// Close event bus
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing event bus")
		}
	}

	logger.Info().Msg("Server stopped")
}
