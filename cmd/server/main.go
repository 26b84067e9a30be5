/**
 * @description
 * Entry point for the banking API. Loads configuration, runs migrations,
 * connects PostgreSQL, Redis and RabbitMQ, builds the Plaid and Dwolla clients,
 * wires the services and serves HTTP until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: Rate-limit counters (optional).
 * - pkg/rabbitmq: Event publishing (optional).
 * - go.uber.org/zap: Structured logging.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/api"
	"github.com/Djonahuti/u-bank/internal/app"
	"github.com/Djonahuti/u-bank/internal/config"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
	"github.com/Djonahuti/u-bank/pkg/middleware"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
	"github.com/Djonahuti/u-bank/pkg/rabbitmq"
	"github.com/Djonahuti/u-bank/pkg/tokencrypt"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	_ = godotenv.Load()

	logger, err := newLogger(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	bootLog := logger.With(zap.String("component", "bootstrap"))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal("config invalid", zap.Error(err))
	}
	bootLog.Info("starting u-bank api", zap.String("port", cfg.ServerPort), zap.String("app_env", cfg.AppEnv))

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		bootLog.Fatal("database migration failed", zap.Error(err))
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		bootLog.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		bootLog.Fatal("database connection failed", zap.Error(err))
	}
	defer dbpool.Close()
	bootLog.Info("database connected")

	tokenBox, err := tokencrypt.NewBox(cfg.AccessTokenEncryptionKey)
	if err != nil {
		bootLog.Fatal("access token encryption key invalid", zap.Error(err))
	}

	// The publisher stays a nil interface when RabbitMQ is unavailable; the
	// services then skip event publishing.
	var publisher app.EventPublisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		bootLog.Warn("rabbitmq url missing; events disabled", zap.String("env", "RABBITMQ_URL"))
	} else {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			bootLog.Warn("rabbitmq producer unavailable; events disabled", zap.Error(err))
		} else {
			defer producer.Close()
			publisher = producer
			bootLog.Info("rabbitmq producer connected")
		}
	}

	var limiter middleware.Limiter
	if redisClient := connectRedis(cfg.RedisURL, bootLog); redisClient != nil {
		defer redisClient.Close()
		limiter = middleware.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	timeout := cfg.RemoteCallTimeout()
	plaid := plaidclient.NewClient(cfg.PlaidBaseURL, cfg.PlaidClientID, cfg.PlaidSecret, timeout, logger)
	dwolla := dwollaclient.NewClient(cfg.DwollaBaseURL, cfg.DwollaKey, cfg.DwollaSecret, timeout, logger)

	repository := store.NewPostgresRepository(dbpool, tokenBox)
	reconciler := app.NewReconciler(repository, tokenBox, publisher, cfg.EventExchange, logger)
	provisioner := app.NewProvisioner(repository, dwolla, reconciler, timeout, logger)
	linker := app.NewBankLinker(repository, plaid, dwolla, provisioner, reconciler, publisher, cfg.EventExchange, timeout, logger)
	transfers := app.NewTransferService(repository, dwolla, reconciler, publisher, cfg.EventExchange, cfg.DestinationFundingSourceURL, timeout, logger)
	linkTokens := app.NewLinkTokenService(plaid, app.LinkTokenOptions{
		ClientName:   cfg.PlaidClientName,
		Products:     cfg.PlaidProducts,
		CountryCodes: cfg.PlaidCountryCodes,
	}, timeout, logger)
	customers := app.NewCustomerService(repository, logger)

	scheduler := app.NewScheduler(reconciler, cfg.ReconcileSchedule, logger)
	if err := scheduler.Start(); err != nil {
		bootLog.Fatal("reconciliation scheduler failed to start", zap.Error(err))
	}

	handlers := api.NewHandlers(linkTokens, linker, transfers, customers, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		Auth: middleware.AuthConfig{
			Secret:   cfg.AuthJWTSecret,
			Audience: cfg.AuthJWTAudience,
			Issuer:   cfg.AuthJWTIssuer,
		},
		AllowedOrigins:    cfg.AllowedOrigins(),
		Limiter:           limiter,
		LinkRateLimit:     cfg.LinkRateLimitPerMinute,
		TransferRateLimit: cfg.TransferRateLimitPerMinute,
	}, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("component", "http"), zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.String("component", "http"), zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", zap.String("component", "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.String("component", "http"), zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("reconciliation job still running at shutdown", zap.String("component", "scheduler"))
	}

	logger.Info("shutdown complete", zap.String("component", "http"))
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(appEnv), "development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// connectRedis returns nil when Redis is not configured or unreachable, which
// disables rate limiting.
func connectRedis(redisURL string, logger *zap.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
