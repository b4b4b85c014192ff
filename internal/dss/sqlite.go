package dss

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/invreserve/engine/internal/rerr"
)

// SQLiteStore is the development/test DSS backend, adapted from the
// lock service's storage.DB: same pragma set and migration-table
// bookkeeping, new schema (a single stock table keyed by sku).
type SQLiteStore struct {
	db *sql.DB
}

type SQLiteConfig struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("dss: sqlite path is required")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.applyPragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("dss: apply pragma failed (%s): %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	const latest = 1
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return err
	}
	cur := 0
	if v.Valid {
		cur = int(v.Int64)
	}

	for version := cur + 1; version <= latest; version++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		switch version {
		case 1:
			if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS stock (
  sku TEXT PRIMARY KEY,
  total INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);
`); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("dss: migration v1 failed: %w", err)
			}
		default:
			_ = tx.Rollback()
			return fmt.Errorf("dss: unknown migration version: %d", version)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`,
			version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ConditionalDecrement(ctx context.Context, sku string, qty int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE stock SET total = total - ?, updated_at_ns = strftime('%s','now')*1000000000
		 WHERE sku = ? AND total >= ?;`,
		qty, sku, qty)
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	if affected == 0 {
		observed, terr := s.totalTx(ctx, tx, sku)
		if terr != nil {
			return 0, terr
		}
		return 0, &rerr.ConflictError{Reason: "insufficient_total", ExistingQty: observed}
	}

	newTotal, err := s.totalTx(ctx, tx, sku)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, rerr.Unavailable(err)
	}
	return newTotal, nil
}

func (s *SQLiteStore) totalTx(ctx context.Context, tx *sql.Tx, sku string) (int64, error) {
	var total int64
	err := tx.QueryRowContext(ctx, `SELECT total FROM stock WHERE sku = ?;`, sku).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	return total, nil
}

func (s *SQLiteStore) Total(ctx context.Context, sku string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT total FROM stock WHERE sku = ?;`, sku).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, rerr.Unavailable(err)
	}
	return total, nil
}

func (s *SQLiteStore) Seed(ctx context.Context, sku string, total int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stock(sku, total, updated_at_ns) VALUES(?, ?, strftime('%s','now')*1000000000)
ON CONFLICT(sku) DO UPDATE SET total = excluded.total, updated_at_ns = excluded.updated_at_ns;
`, sku, total)
	if err != nil {
		return rerr.Unavailable(err)
	}
	return nil
}
