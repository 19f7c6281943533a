package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cabgo/internal/app"
	"cabgo/internal/auth"
	"cabgo/internal/broker"
	"cabgo/internal/config"
	"cabgo/internal/handler"
	internalRedis "cabgo/internal/redis"
	"cabgo/internal/repository/postgres"
	"cabgo/internal/service"
)

const brokerDialAttempts = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	var publisher service.Publisher = broker.NewLogPublisher(logger)
	if cfg.Broker.Enabled {
		amqpPublisher, err := broker.Dial(ctx, cfg.Broker.URL, cfg.Broker.Exchange, brokerDialAttempts, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		logger.Info("connected to RabbitMQ", zap.String("exchange", cfg.Broker.Exchange))
	}

	server := wireServer(db, redisClient, publisher, nrApp, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	publisher service.Publisher,
	nrApp *newrelic.Application,
	cfg *config.Config,
	logger *zap.Logger,
) *http.Server {
	timeout := cfg.Workflow.CollaboratorTimeout

	// Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Workflow.IdentityCacheTTL)

	// Repositories.
	userRepo := postgres.NewUserRepository(db)
	driverRepo := postgres.NewDriverRepository(db, cfg.Workflow.ReserveAttempts)
	rideRepo := postgres.NewRideRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	ratingRepo := postgres.NewRatingRepository(db)

	// Services.
	identityService := service.NewIdentityService(userRepo, driverRepo, cacheStore, timeout, logger.Named("identity"))
	directory := service.NewDriverDirectory(driverRepo, timeout, logger.Named("directory"))
	notificationService := service.NewNotificationService(publisher, timeout, logger.Named("notification"))
	rideService := service.NewRideService(rideRepo, directory, identityService, lockStore, notificationService, service.WorkflowConfig{
		CollaboratorTimeout: timeout,
		ReleaseAttempts:     cfg.Workflow.ReleaseAttempts,
		RideLockTTL:         cfg.Workflow.RideLockTTL,
		ReconcileGrace:      cfg.Workflow.ReconcileGrace,
	}, logger.Named("ride"))
	receiptService := service.NewReceiptService()
	paymentService := service.NewPaymentService(paymentRepo, rideRepo, identityService, service.NewMockPSP(), receiptService, timeout, logger.Named("payment"))
	ratingService := service.NewRatingService(ratingRepo, rideRepo, identityService, timeout, logger.Named("rating"))

	// Handlers.
	httpLogger := logger.Named("http")
	router := app.NewRouter(app.RouterDeps{
		UserHandler:    handler.NewUserHandler(identityService, httpLogger),
		RideHandler:    handler.NewRideHandler(rideService, httpLogger),
		DriverHandler:  handler.NewDriverHandler(directory, identityService, rideService, httpLogger),
		PaymentHandler: handler.NewPaymentHandler(paymentService, receiptService, httpLogger),
		RatingHandler:  handler.NewRatingHandler(ratingService, httpLogger),
		Verifier:       auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Logger:         httpLogger,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
