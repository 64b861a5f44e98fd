package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// OutboxMetrics covers the outbox poller of a service
type OutboxMetrics struct {
	Published      prometheus.Counter
	PublishFailed  prometheus.Counter
	PoisonEvents   prometheus.Counter
	PurgedEvents   prometheus.Counter
	BatchDuration  prometheus.Histogram
}

// WebhookMetrics covers gateway webhook ingestion
type WebhookMetrics struct {
	Processed *prometheus.CounterVec // status x idempotency_hit
}

// LedgerMetrics covers bank transfers
type LedgerMetrics struct {
	TransfersProcessed *prometheus.CounterVec // status x idempotency_hit
	TransferDuration   prometheus.Histogram
}

// ConsumerMetrics covers bus consumer loops
type ConsumerMetrics struct {
	Handled      *prometheus.CounterVec // queue x outcome
	DeadLettered *prometheus.CounterVec // queue
}

// CacheMetrics covers the tiered totals read path
type CacheMetrics struct {
	Lookups     *prometheus.CounterVec // tier x outcome
	SnapshotAge prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewOutboxMetrics creates outbox poller metrics for a service
func NewOutboxMetrics(serviceName string) *OutboxMetrics {
	return &OutboxMetrics{
		Published: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_outbox_published_total",
				Help: "Outbox events acknowledged by the broker",
			},
		),
		PublishFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_outbox_publish_failed_total",
				Help: "Outbox publish attempts that failed",
			},
		),
		PoisonEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_outbox_poison_total",
				Help: "Outbox events that exhausted their retries",
			},
		),
		PurgedEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_outbox_purged_total",
				Help: "Processed outbox events removed by retention",
			},
		),
		BatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_outbox_batch_duration_seconds",
				Help:    "Outbox batch processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// NewWebhookMetrics creates webhook ingestion metrics
func NewWebhookMetrics(serviceName string) *WebhookMetrics {
	return &WebhookMetrics{
		Processed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_webhooks_processed_total",
				Help: "Webhook deliveries by outcome and idempotency layer",
			},
			[]string{"status", "idempotency_hit"},
		),
	}
}

// NewLedgerMetrics creates transfer metrics
func NewLedgerMetrics(serviceName string) *LedgerMetrics {
	return &LedgerMetrics{
		TransfersProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_transfers_processed_total",
				Help: "Transfers by outcome and idempotency layer",
			},
			[]string{"status", "idempotency_hit"},
		),
		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_transfer_duration_seconds",
				Help:    "Transfer processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// NewConsumerMetrics creates consumer loop metrics
func NewConsumerMetrics(serviceName string) *ConsumerMetrics {
	return &ConsumerMetrics{
		Handled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_consumer_messages_total",
				Help: "Consumed messages by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
		DeadLettered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_consumer_dead_lettered_total",
				Help: "Messages routed to a dead-letter queue",
			},
			[]string{"queue"},
		),
	}
}

// NewCacheMetrics creates tiered cache metrics
func NewCacheMetrics(serviceName string) *CacheMetrics {
	return &CacheMetrics{
		Lookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_cache_lookups_total",
				Help: "Cache lookups by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		SnapshotAge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_snapshot_age_seconds",
				Help: "Age of the last served pre-aggregated snapshot",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
