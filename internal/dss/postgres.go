package dss

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invreserve/engine/internal/rerr"
)

// PostgresStore is the production DSS backend: a real transactional
// system of record behind a pgx connection pool, grounded on the same
// conditional-update pattern the SQLite dev backend uses, scaled to
// concurrent request load with pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dss: durable_store_dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dss: parse durable_store_dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dss: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dss: ping: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock (
  sku TEXT PRIMARY KEY,
  total BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (s *PostgresStore) ConditionalDecrement(ctx context.Context, sku string, qty int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newTotal int64
	err = tx.QueryRow(ctx, `
UPDATE stock SET total = total - $1, updated_at = now()
WHERE sku = $2 AND total >= $1
RETURNING total;
`, qty, sku).Scan(&newTotal)

	if errors.Is(err, pgx.ErrNoRows) {
		observed, terr := s.totalTx(ctx, tx, sku)
		if terr != nil {
			return 0, terr
		}
		return 0, &rerr.ConflictError{Reason: "insufficient_total", ExistingQty: observed}
	}
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, rerr.Unavailable(err)
	}
	return newTotal, nil
}

func (s *PostgresStore) totalTx(ctx context.Context, tx pgx.Tx, sku string) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `SELECT total FROM stock WHERE sku = $1;`, sku).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	return total, nil
}

func (s *PostgresStore) Total(ctx context.Context, sku string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT total FROM stock WHERE sku = $1;`, sku).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	return total, nil
}

func (s *PostgresStore) Seed(ctx context.Context, sku string, total int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO stock(sku, total, updated_at) VALUES($1, $2, now())
ON CONFLICT(sku) DO UPDATE SET total = excluded.total, updated_at = excluded.updated_at;
`, sku, total)
	if err != nil {
		return rerr.Unavailable(err)
	}
	return nil
}
