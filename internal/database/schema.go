package database

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		base_currency VARCHAR(10) NOT NULL,
		quote_currency VARCHAR(10) NOT NULL,
		condition_type VARCHAR(10) NOT NULL CHECK (condition_type IN ('above', 'below')),
		target_price DOUBLE PRECISION NOT NULL CHECK (target_price > 0),
		webhook_url TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_triggered BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		triggered_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		user_identifier VARCHAR(50) NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		trigger_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_eligible ON alerts (is_active, is_triggered)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts (user_identifier)`,
}

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		base_currency TEXT NOT NULL,
		quote_currency TEXT NOT NULL,
		condition_type TEXT NOT NULL CHECK (condition_type IN ('above', 'below')),
		target_price REAL NOT NULL CHECK (target_price > 0),
		webhook_url TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		is_triggered BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		triggered_at DATETIME,
		updated_at DATETIME NOT NULL,
		user_identifier TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		trigger_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_eligible ON alerts (is_active, is_triggered)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts (user_identifier)`,
}

// Migrate creates the alerts table and its indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
