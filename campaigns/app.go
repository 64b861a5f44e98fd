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
	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/metrics"
	"github.com/careforall/donation-platform/common/outbox"
	"github.com/careforall/donation-platform/common/postgres"
)

// Config carries the campaign service settings.
type Config struct {
	ServiceName  string
	HTTPAddr     string
	DatabaseURL  string
	AMQPUser     string
	AMQPPass     string
	AMQPHost     string
	AMQPPort     string
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	MaxGoal      decimal.Decimal
}

// App wires the campaign service: HTTP handlers, the store and the
// outbox poller share one process.
type App struct {
	cfg         Config
	logger      *zap.Logger
	pool        *pgxpool.Pool
	channel     *amqp.Channel
	closeBroker func() error
	poller      *outbox.Poller
	server      *http.Server
}

func NewApp(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	ch, closeBroker, err := broker.Connect(cfg.AMQPUser, cfg.AMQPPass, cfg.AMQPHost, cfg.AMQPPort)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	campaignStore := NewStore(pool)
	svc := NewService(campaignStore, cfg.MaxGoal, logger)

	httpMetrics := metrics.NewHTTPMetrics(cfg.ServiceName)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpMetrics.GinMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	NewHTTPHandler(svc).registerRoutes(router)

	poller := outbox.NewPoller(outbox.Config{
		Service:      "campaign",
		Exchange:     events.CampaignsExchange,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		PollInterval: cfg.PollInterval,
	}, outbox.NewPostgresStore(pool), broker.NewChannelPublisher(ch), logger,
		metrics.NewOutboxMetrics(cfg.ServiceName))

	return &App{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		channel:     ch,
		closeBroker: closeBroker,
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

	a.logger.Info("starting http server", zap.String("addr", a.cfg.HTTPAddr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains the HTTP server, then closes broker and pool.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := a.closeBroker(); err != nil {
		a.logger.Error("broker close failed", zap.Error(err))
	}
	a.pool.Close()
	return nil
}
