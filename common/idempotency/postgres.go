package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// PostgresRecords is the pgx-backed L2 layer. The table name is
// injected because each service owns its own schema
// (idempotency_keys, transfer_idempotency).
type PostgresRecords struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresRecords(pool *pgxpool.Pool, table string) *PostgresRecords {
	return &PostgresRecords{pool: pool, table: table}
}

func (r *PostgresRecords) Find(ctx context.Context, key string) (*Response, error) {
	var resp Response
	query := fmt.Sprintf(
		`SELECT response_body, response_status FROM %s WHERE key = $1`, r.table)
	err := r.pool.QueryRow(ctx, query, key).Scan(&resp.Body, &resp.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	return &resp, nil
}

func (r *PostgresRecords) Insert(ctx context.Context, key string, resp Response, expiresAt time.Time) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (key, response_body, response_status, created_at, expires_at)
		 VALUES ($1, $2, $3, NOW(), $4)`, r.table)
	_, err := r.pool.Exec(ctx, query, key, resp.Body, resp.Status, expiresAt)
	if isUniqueViolation(err) {
		// Another handler with the same key finished first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", r.table, err)
	}
	return nil
}

// InsertInTx writes the record inside the caller's transaction so the
// response is persisted atomically with the side effects it describes.
func InsertInTx(ctx context.Context, tx pgx.Tx, table, key string, resp Response, expiresAt time.Time) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (key, response_body, response_status, created_at, expires_at)
		 VALUES ($1, $2, $3, NOW(), $4)`, table)
	_, err := tx.Exec(ctx, query, key, resp.Body, resp.Status, expiresAt)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// PurgeExpired removes rows past their expires_at. Run out of band.
func (r *PostgresRecords) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, r.table)
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", r.table, err)
	}
	return tag.RowsAffected(), nil
}

// RunPurger calls PurgeExpired on a timer until ctx is done. One
// purger per service process keeps the L2 table from growing past its
// retention window.
func (r *PostgresRecords) RunPurger(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := r.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("idempotency purge failed",
					zap.String("table", r.table), zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("purged expired idempotency records",
					zap.String("table", r.table), zap.Int64("purged", purged))
			}
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
