package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore drains outbox_events with pgx. Fetch uses
// FOR UPDATE SKIP LOCKED so concurrent pollers never block on each
// other's rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Begin(ctx context.Context) (BatchTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresBatchTx{tx: tx}, nil
}

func (s *PostgresStore) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE processed_at IS NOT NULL AND processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type postgresBatchTx struct {
	tx pgx.Tx
}

func (t *postgresBatchTx) Fetch(ctx context.Context, limit, maxRetries int) ([]Record, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at, processed_at, retry_count
		FROM outbox_events
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Seq, &r.AggregateID, &r.EventType, &r.Payload,
			&r.CreatedAt, &r.ProcessedAt, &r.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows error: %w", err)
	}
	return records, nil
}

func (t *postgresBatchTx) MarkProcessed(ctx context.Context, seq int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, seq)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

func (t *postgresBatchTx) IncrementRetry(ctx context.Context, seq int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1 WHERE id = $1`, seq)
	if err != nil {
		return fmt.Errorf("failed to increment outbox retry count: %w", err)
	}
	return nil
}

func (t *postgresBatchTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresBatchTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
