package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"ms-seating/internal/auth"
	"ms-seating/internal/availability"
	"ms-seating/internal/catalog"
	"ms-seating/internal/checkout"
	"ms-seating/internal/config"
	"ms-seating/internal/database/migrations"
	"ms-seating/internal/health"
	"ms-seating/internal/hold"
	"ms-seating/internal/hold/hold_api"
	"ms-seating/internal/kafka"
	"ms-seating/internal/lease"
	"ms-seating/internal/ledger"
	"ms-seating/internal/logger"
	"ms-seating/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	logger, err := logger.New(cfg.LogDir, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Info("APP", "Starting Seating Service initialization")
	if envErr != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	for _, key := range cfg.Invalid {
		logger.Warn("CONFIG", fmt.Sprintf("Ignoring invalid value for %s, using default", key))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.AutoMigrate {
		runner := migrations.NewRunner(bunDB.DB, cfg.MigrationsDir, logger)
		if err := runner.Up(); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Auto migration failed: %v", err))
		}
		runner.Close()
	}

	// Seat status fan-out: SSE always, kafka when enabled
	stream := sse.NewSeatEventEmitter()
	notifiers := []hold.Notifier{stream}
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %s", strings.Join(cfg.Kafka.Brokers, ",")))
		requiredTopics := []string{cfg.Kafka.Topics.SeatStatus, cfg.Kafka.Topics.PaymentOutcomes}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.SeatStatus, logger)
		defer producer.Close()
		notifiers = append(notifiers, producer)
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentOutcomes, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
	} else {
		logger.Warn("KAFKA", "Kafka disabled, seat status changes are only streamed over SSE")
	}

	leases := lease.NewRedisStore(redisClient, logger)
	seatLedger := &ledger.DB{Bun: bunDB}
	events := &catalog.DB{Bun: bunDB}

	holdService := hold.NewService(leases, seatLedger, events, logger, hold.Options{
		TTL:            cfg.Holds.TTL,
		LedgerAttempts: cfg.Holds.LedgerAttempts,
		LedgerBackoff:  cfg.Holds.LedgerBackoff,
		Currency:       cfg.Holds.Currency,
	}, notifiers...)

	availNotifiers := make([]availability.Notifier, len(notifiers))
	settleNotifiers := make([]checkout.Notifier, len(notifiers))
	for i, n := range notifiers {
		availNotifiers[i] = n
		settleNotifiers[i] = n
	}
	reconciler := availability.NewReconciler(leases, seatLedger, logger, cfg.Holds.HealOnRead, availNotifiers...)
	settler := checkout.NewSettler(seatLedger, holdService, logger, settleNotifiers...)

	handler := hold_api.NewHandler(holdService, reconciler, leases, stream, settler, logger)

	authMiddleware, err := auth.Middleware(ctx, cfg.OIDCIssuer)
	if err != nil {
		logger.Fatal("AUTH", err.Error())
	}
	if cfg.OIDCIssuer == "" {
		logger.Warn("AUTH", "OIDC_ISSUER not set, API routes are not authenticated")
	}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hold_api.RequestLogger(logger))

	// --- Public Routes ---
	r.Handle("/health", health.NewChecker(map[string]health.Pinger{
		"postgres": bunDB,
		"redis":    health.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}))
	r.Handle("/metrics", promhttp.Handler())

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Route("/api", handler.RegisterRoutes)
		logger.Info("ROUTER", "Hold routes registered under /api/events and /api/internal")
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: it would cut the SSE streams
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	var workers sync.WaitGroup
	runWorker := func(fn func()) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn()
		}()
	}

	listener := availability.NewExpiryListener(redisClient, reconciler)
	if err := listener.EnableNotifications(ctx); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("%v; relying on the sweeper", err))
	}
	runWorker(func() { listener.Run(ctx) })
	runWorker(func() { availability.NewSweeper(reconciler, cfg.Holds.SweepInterval).Run(ctx) })
	if consumer != nil {
		runWorker(func() {
			if err := consumer.Run(ctx, settler.SettleMessage); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Payment outcome consumer stopped: %v", err))
			}
		})
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Seating Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Seating Service shutdown complete")
	}
	workers.Wait()
}
