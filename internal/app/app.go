package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/api"
	"github.com/ayo6706/transfer-core/internal/api/handler"
	"github.com/ayo6706/transfer-core/internal/api/middleware"
	"github.com/ayo6706/transfer-core/internal/config"
	"github.com/ayo6706/transfer-core/internal/db"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/gateway"
	"github.com/ayo6706/transfer-core/internal/idempotency"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/ayo6706/transfer-core/internal/repository/memstore"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/ayo6706/transfer-core/internal/worker"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// storage is what the services and the idempotency store need from a backend.
type storage interface {
	service.QueryStore
	idempotency.Backend
}

// Run starts the HTTP server and background workers and blocks until ctx is canceled
// or the server fails. Shutdown drains requests before stopping the workers.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		store    storage
		dbPinger handler.Pinger
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		store = memstore.New()
	default:
		if cfg.RunMigrations {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		pg := repository.NewStore(pool)
		store = pg
		dbPinger = pg
	}

	var (
		redisCmd    redis.Cmdable
		redisPinger handler.Pinger
		locks       *redsync.Redsync
	)
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCmd = redisClient
		redisPinger = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		locks = redsync.New(goredis.NewPool(redisClient))
	} else {
		logger.Warn("REDIS_URL not set; idempotency replays use the database only and scheduler ticks are not coordinated")
	}
	idemStore := idempotency.NewStore(redisCmd, store, cfg.IdempotencyTTL)

	publisher, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer publisher.Close()

	limits, err := policy.FromOverrides(cfg.Policy)
	if err != nil {
		return fmt.Errorf("build limit policy: %w", err)
	}
	fees := policy.NewFeeCalculator(limits).WithScheduledSurcharge(cfg.ScheduledSurcharge)
	approvalRouter := policy.NewApprovalRouter(limits)
	opts := []service.Option{service.WithLocation(cfg.Location()), service.WithPublisher(publisher)}

	validator := service.NewTransferValidator(store, limits, fees, approvalRouter, cfg.HomeBankCode, opts...)
	executor := service.NewTransferExecutor(store, validator, opts...)
	approvals := service.NewApprovalWorkflow(store, executor, approvalRouter, opts...)
	scheduler := service.NewSchedulingManager(store, validator, executor, cfg.ScheduleCancelGrace, opts...)

	settlementGateway := gateway.NewBreakerGateway(gateway.NewMockGateway(), gateway.BreakerConfig{
		FailureThreshold: cfg.GatewayFailureThreshold,
		OpenTimeout:      cfg.GatewayOpenTimeout,
	})
	settlements := service.NewSettlementService(store, settlementGateway, opts...)

	services := api.Services{
		Transfers:     service.NewTransferService(store, validator, executor, approvals, scheduler),
		Approvals:     approvals,
		Scheduler:     scheduler,
		Accounts:      service.NewAccountService(store, limits),
		Beneficiaries: service.NewBeneficiaryService(store, limits),
		Settlements:   settlements,
		Callbacks:     service.NewSettlementCallbackService(settlements, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
	}

	scheduledWorker := worker.NewScheduledTransferWorker(scheduler, locks).
		WithSpec(cfg.SchedulerSpec).
		WithBatchSize(cfg.SchedulerBatchSize)
	if err := scheduledWorker.Start(ctx); err != nil {
		return fmt.Errorf("start scheduled transfer worker: %w", err)
	}
	stopSettlements := worker.NewSettlementWorker(settlements).
		WithPollInterval(cfg.SettlementPollInterval).
		WithBatchSize(cfg.SettlementBatchSize).
		Run(ctx)
	stopReconciliation := worker.NewReconciliationWorker(service.NewReconciliationService(store), locks).
		WithInterval(cfg.ReconciliationInterval).
		Run(ctx)

	router := api.NewRouter(cfg, logger, services, idemStore, dbPinger, redisPinger)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("storage", cfg.StorageDriver))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopSettlements()
	stopReconciliation()
	select {
	case <-scheduledWorker.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled transfer worker did not stop in time")
	}
	cancel()

	logger.Info("shutdown complete")
	return nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		zap.L().Info("AMQP_URL not set; transfer events are not published")
		return events.NoopPublisher{}, nil
	}
	publisher, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.EventsExchange)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
