package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
	"github.com/inkbook/service-booking/internal/config"
	bookingEvents "github.com/inkbook/service-booking/internal/events"
	"github.com/inkbook/service-booking/internal/gateway"
	"github.com/inkbook/service-booking/internal/handler"
	"github.com/inkbook/service-booking/internal/notify"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/database"
	"github.com/inkbook/service-booking/internal/platform/health"
	"github.com/inkbook/service-booking/internal/platform/kafka"
	"github.com/inkbook/service-booking/internal/platform/logger"
	"github.com/inkbook/service-booking/internal/platform/middleware"
	"github.com/inkbook/service-booking/internal/repository"
)

const serviceName = "service-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
	)

	// Connect to database
	db, err := database.Connect(cfg.DBConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.BookingRequestModel{}, &repository.SideEffectModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(cfg.DBConfig.DatabaseURL(), cfg.MigrationsDir, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Status fan-out: local hub, relayed through Redis when configured so
	// every replica's viewers see every change.
	hub := bookingEvents.NewHub(log)
	var broadcaster application.StatusBroadcaster = hub
	var dedup application.Deduplicator
	if cfg.RedisConfig.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer func() { _ = redisClient.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err), zap.String("addr", cfg.RedisConfig.Addr))
		}

		relay := bookingEvents.NewRedisBroadcaster(redisClient, hub, log)
		broadcaster = relay
		dedup = bookingEvents.NewRedisDeduplicator(redisClient, cfg.Lifecycle.WebhookDedupTTL)

		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("status relay stopped", zap.Error(err))
			}
		}()
	} else {
		log.Warn("redis not configured: webhook de-duplication relies on booking state and status updates stay local")
	}

	// Initialize repositories
	bookingRepo := repository.NewGormBookingRepository(db)
	sideEffectRepo := repository.NewGormSideEffectRepository(db)

	// Initialize external collaborators
	paymentClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.Timeout,
	}, log)
	dispatcher := notify.NewKafkaDispatcher(kafkaProducer, serviceName, log)

	// Initialize application services
	lifecycleService := application.NewLifecycleService(
		bookingRepo,
		sideEffectRepo,
		application.Collaborators{
			Payments:    paymentClient,
			Notifier:    dispatcher,
			Publisher:   kafkaProducer,
			Broadcaster: broadcaster,
			Dedup:       dedup,
		},
		application.LifecycleOptions{
			Currency:                     cfg.Lifecycle.Currency,
			DefaultDepositExpiryDays:     cfg.Lifecycle.DefaultDepositExpiryDays,
			AllowCancelPaidWithoutRefund: cfg.Lifecycle.AllowCancelPaidWithoutRefund,
			PublicPayURL:                 cfg.Payment.PublicPayURL,
		},
		log,
	)

	poller := application.NewReconciliationPoller(
		bookingRepo,
		kafkaProducer,
		broadcaster,
		cfg.Lifecycle.ReconcileInterval,
		log,
	)
	go poller.Run(ctx)

	// Initialize and start payment event consumer in a goroutine
	groupID := cfg.KafkaConfig.GroupPrefix + serviceName
	paymentConsumer := bookingEvents.NewPaymentEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		lifecycleService,
		log,
	)
	defer func() { _ = paymentConsumer.Close() }()

	go func() {
		log.Info("starting payment event consumer")
		if err := paymentConsumer.Start(ctx); err != nil && err != context.Canceled {
			log.Error("payment event consumer error", zap.Error(err))
		}
	}()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)

	// Register routes
	handler.NewBookingHandler(lifecycleService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewAdminBookingHandler(lifecycleService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewPublicHandler(lifecycleService).RegisterRoutes(&router.RouterGroup)
	handler.NewWebhookHandler(lifecycleService, cfg.Payment.WebhookSecret, log).RegisterRoutes(&router.RouterGroup)
	handler.NewStreamHandler(lifecycleService, hub, poller, nil, log).RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	// Stop the consumer, poller and relay
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info(serviceName + " stopped")
}
