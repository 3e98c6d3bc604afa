package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/replyloop/service-codepool/internal/application"
	"github.com/replyloop/service-codepool/internal/config"
	codepoolEvents "github.com/replyloop/service-codepool/internal/events"
	"github.com/replyloop/service-codepool/internal/handler"
	"github.com/replyloop/service-codepool/internal/repository"
	"github.com/replyloop/service-codepool/pkg/auth"
	"github.com/replyloop/service-codepool/pkg/database"
	"github.com/replyloop/service-codepool/pkg/health"
	"github.com/replyloop/service-codepool/pkg/kafka"
	"github.com/replyloop/service-codepool/pkg/logger"
	"github.com/replyloop/service-codepool/pkg/middleware"
)

const serviceName = "service-codepool"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("state_backend", cfg.StateBackend),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:         cfg.DBConfig.Host,
		Port:         cfg.DBConfig.Port,
		User:         cfg.DBConfig.User,
		Password:     cfg.DBConfig.Password,
		DBName:       cfg.DBConfig.DBName,
		SSLMode:      cfg.DBConfig.SSLMode,
		MaxOpenConns: cfg.DBConfig.MaxOpenConns,
		MaxIdleConns: cfg.DBConfig.MaxIdleConns,
	}

	db, err := database.Connect(dbConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := repository.AutoMigrate(db); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", zapLogger); err != nil {
			zapLogger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, cfg.JWTConfig.Issuer, 15*time.Minute)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
	defer kafkaProducer.Close()

	// Decision cache
	var decisions repository.StateStore
	switch cfg.StateBackend {
	case config.StateBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			zapLogger.Warn("redis not reachable, decisions will fall through to postgres", zap.Error(err))
		}
		pingCancel()
		decisions = repository.NewRedisStateStore(redisClient, "codepool:")
	default:
		memoryStore := repository.NewMemoryStateStore()
		defer memoryStore.Close()
		decisions = memoryStore
	}

	// Initialize repositories and services
	poolRepo := repository.NewGormPoolRepository(db)
	poolService := application.NewPoolService(poolRepo, cfg.AssignConfig.MaxCodeLength, zapLogger)
	assignmentService := application.NewAssignmentService(poolRepo, decisions, cfg.AssignConfig.DecisionTTL, zapLogger)

	// Start Kafka consumer for automation events
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	healthHandler := health.NewHandler(db, serviceName)

	if cfg.ConsumerEnabled {
		retry := kafka.DefaultRetryPolicy()
		if cfg.KafkaConfig.MaxAttempts > 0 {
			retry.MaxAttempts = cfg.KafkaConfig.MaxAttempts
		}
		commentConsumer := codepoolEvents.NewCommentEventConsumer(
			cfg.KafkaConfig.Brokers,
			cfg.KafkaConfig.GroupPrefix+"codepool-service",
			codepoolEvents.NewCommentEventHandler(assignmentService, kafkaProducer, zapLogger),
			kafkaProducer,
			retry,
			zapLogger,
		)
		defer commentConsumer.Close()
		healthHandler.WithCheck("kafka_consumer", commentConsumer.Ready)

		go func() {
			zapLogger.Info("starting automation event consumer")
			if err := commentConsumer.Start(consumerCtx); err != nil {
				if consumerCtx.Err() == nil {
					zapLogger.Error("automation event consumer failed", zap.Error(err))
				}
			}
		}()
	}

	// Initialize HTTP handlers
	poolHandler := handler.NewPoolHandler(poolService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check and metrics routes
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Register API routes
	apiV1 := router.Group("/api/v1")
	poolHandler.RegisterRoutes(apiV1, jwtManager)
	assignmentHandler.RegisterRoutes(apiV1, jwtManager)

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
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down " + serviceName + "...")

	// Cancel Kafka consumer
	consumerCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info(serviceName + " stopped")
}
