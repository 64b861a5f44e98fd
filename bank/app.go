package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/broker"
	"github.com/careforall/donation-platform/common/cache"
	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/idempotency"
	"github.com/careforall/donation-platform/common/metrics"
	"github.com/careforall/donation-platform/common/outbox"
	"github.com/careforall/donation-platform/common/postgres"
)

// Config carries the bank service settings.
type Config struct {
	ServiceName    string
	HTTPAddr       string
	DatabaseURL    string
	RedisAddr      string
	AMQPUser       string
	AMQPPass       string
	AMQPHost       string
	AMQPPort       string
	PollInterval   time.Duration
	BatchSize      int
	MaxRetries     int
	IdempotencyTTL time.Duration
	MaxTransfer    decimal.Decimal
}

// App wires the bank service: the ledger store, the transfer replay
// store and the outbox poller share one process.
type App struct {
	cfg         Config
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *cache.Client
	channel     *amqp.Channel
	closeBroker func() error
	idemRecords *idempotency.PostgresRecords
	poller      *outbox.Poller
	server      *http.Server
}

func NewApp(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	redisClient, err := cache.Connect(cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ch, closeBroker, err := broker.Connect(cfg.AMQPUser, cfg.AMQPPass, cfg.AMQPHost, cfg.AMQPPort)
	if err != nil {
		redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(cfg.ServiceName)
	idemRecords := idempotency.NewPostgresRecords(pool, "transfer_idempotency")
	replayStore := idempotency.NewStore("transfer:", redisClient,
		idemRecords,
		cfg.IdempotencyTTL,
		func(layer string) {
			ledgerMetrics.TransfersProcessed.WithLabelValues("cached", layer).Inc()
		})

	ledgerStore := NewStore(pool, cfg.MaxTransfer, cfg.IdempotencyTTL)
	svc := NewService(ledgerStore, replayStore, cfg.MaxTransfer, ledgerMetrics, logger)

	httpMetrics := metrics.NewHTTPMetrics(cfg.ServiceName)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpMetrics.GinMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	NewHTTPHandler(svc).registerRoutes(router)

	poller := outbox.NewPoller(outbox.Config{
		Service:      "bank",
		Exchange:     events.BankExchange,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		PollInterval: cfg.PollInterval,
	}, outbox.NewPostgresStore(pool), broker.NewChannelPublisher(ch), logger,
		metrics.NewOutboxMetrics(cfg.ServiceName))

	return &App{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		channel:     ch,
		closeBroker: closeBroker,
		idemRecords: idemRecords,
		poller:      poller,
		server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}, nil
}

// Start runs the outbox poller and the HTTP server until ctx is done.
func (a *App) Start(ctx context.Context) error {
	go a.poller.Run(ctx)
	go a.idemRecords.RunPurger(ctx, time.Hour, a.logger)

	a.logger.Info("starting http server", zap.String("addr", a.cfg.HTTPAddr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains the HTTP server, then closes broker, cache and pool.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := a.closeBroker(); err != nil {
		a.logger.Error("broker close failed", zap.Error(err))
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close failed", zap.Error(err))
	}
	a.pool.Close()
	return nil
}
