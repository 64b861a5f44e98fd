package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/metrics"
)

// Store gives the poller locked access to pending outbox rows.
type Store interface {
	Begin(ctx context.Context) (BatchTx, error)
	// PurgeProcessedBefore removes processed rows older than cutoff.
	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BatchTx is one polling transaction. Fetch acquires row locks that
// skip rows locked by a concurrent poller, so multiple instances drain
// the same table without contention.
type BatchTx interface {
	Fetch(ctx context.Context, limit, maxRetries int) ([]Record, error)
	MarkProcessed(ctx context.Context, seq int64) error
	IncrementRetry(ctx context.Context, seq int64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Publisher delivers one message to the broker. An error means the
// broker did not acknowledge it.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Config carries the per-service poller settings.
type Config struct {
	Service      string // routing key prefix, e.g. "donation"
	Exchange     string // e.g. events.DonationsExchange
	BatchSize    int
	MaxRetries   int
	PollInterval time.Duration
	Retention    time.Duration // how long processed rows are kept
	PurgeEvery   int           // purge once per this many batches
}

// Poller drains unprocessed outbox rows to the broker.
type Poller struct {
	cfg       Config
	store     Store
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.OutboxMetrics

	batchesSincePurge int
}

func NewPoller(cfg Config, store Store, publisher Publisher, logger *zap.Logger, m *metrics.OutboxMetrics) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.PurgeEvery <= 0 {
		cfg.PurgeEvery = 100
	}
	return &Poller{cfg: cfg, store: store, publisher: publisher, logger: logger, metrics: m}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started",
		zap.String("exchange", p.cfg.Exchange),
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("outbox batch failed", zap.Error(err))
			}
			p.maybePurge(ctx)
		}
	}
}

// ProcessBatch drains up to BatchSize pending rows: publish, then mark
// processed on broker ack or bump the retry counter on failure. The
// whole batch commits together; a crash mid-batch leaves every row
// pending, which consumers must tolerate as a duplicate.
func (p *Poller) ProcessBatch(ctx context.Context) (published int, err error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin outbox batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := tx.Fetch(ctx, p.cfg.BatchSize, p.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox batch: %w", err)
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, record := range records {
		if err := p.publishRecord(ctx, record); err != nil {
			if p.metrics != nil {
				p.metrics.PublishFailed.Inc()
			}
			if err := tx.IncrementRetry(ctx, record.Seq); err != nil {
				return published, fmt.Errorf("failed to increment retry: %w", err)
			}
			// A row on its last attempt is poison: surface it, then let
			// the fetch predicate keep it out of future batches so newer
			// rows are not blocked.
			if record.RetryCount+1 >= p.cfg.MaxRetries {
				if p.metrics != nil {
					p.metrics.PoisonEvents.Inc()
				}
				p.logger.Error("outbox event exhausted retries",
					zap.Int64("seq", record.Seq),
					zap.String("event_type", record.EventType),
					zap.String("aggregate_id", record.AggregateID.String()),
				)
			}
			continue
		}

		if err := tx.MarkProcessed(ctx, record.Seq); err != nil {
			return published, fmt.Errorf("failed to mark processed: %w", err)
		}
		published++
		if p.metrics != nil {
			p.metrics.Published.Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}
	return published, nil
}

func (p *Poller) publishRecord(ctx context.Context, record Record) error {
	envelope := events.Envelope{
		EventID:     record.Seq,
		EventType:   record.EventType,
		AggregateID: record.AggregateID.String(),
		Timestamp:   record.CreatedAt.UTC(),
		Payload:     record.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	routingKey := events.RoutingKey(p.cfg.Service, record.EventType)
	return p.publisher.Publish(ctx, p.cfg.Exchange, routingKey, body)
}

func (p *Poller) maybePurge(ctx context.Context) {
	p.batchesSincePurge++
	if p.batchesSincePurge < p.cfg.PurgeEvery {
		return
	}
	p.batchesSincePurge = 0

	cutoff := time.Now().UTC().Add(-p.cfg.Retention)
	purged, err := p.store.PurgeProcessedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("outbox purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		if p.metrics != nil {
			p.metrics.PurgedEvents.Add(float64(purged))
		}
		p.logger.Info("purged processed outbox events", zap.Int64("count", purged))
	}
}
