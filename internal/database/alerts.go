package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pricealerts/internal/models"

	"go.uber.org/zap"
)

const alertColumns = `id, base_currency, quote_currency, condition_type, target_price, webhook_url,
	is_active, is_triggered, created_at, triggered_at, updated_at, user_identifier, note, trigger_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a    models.Alert
		trig sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.BaseCurrency,
		&a.QuoteCurrency,
		&a.ConditionType,
		&a.TargetPrice,
		&a.WebhookURL,
		&a.IsActive,
		&a.IsTriggered,
		&a.CreatedAt,
		&trig,
		&a.UpdatedAt,
		&a.UserIdentifier,
		&a.Note,
		&a.TriggerCount,
	)
	if err != nil {
		return nil, err
	}
	if trig.Valid {
		t := trig.Time
		a.TriggeredAt = &t
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

func triggeredAt(a *models.Alert) sql.NullTime {
	if a.TriggeredAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: a.TriggeredAt.UTC(), Valid: true}
}

func whereClause(f models.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserIdentifier != "" {
		conds = append(conds, "user_identifier = ?")
		args = append(args, f.UserIdentifier)
	}
	if f.Active != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, *f.Active)
	}
	if f.Triggered != nil {
		conds = append(conds, "is_triggered = ?")
		args = append(args, *f.Triggered)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListActive returns every alert that is active and not yet triggered.
func (s *Store) ListActive(ctx context.Context) ([]*models.Alert, error) {
	alerts, err := s.list(ctx, models.Filter{Active: models.Bool(true), Triggered: models.Bool(false)}, "id ASC")
	if err != nil {
		return nil, storeErr("list active alerts", err)
	}
	return alerts, nil
}

// List returns alerts matching f, newest first.
func (s *Store) List(ctx context.Context, f models.Filter) ([]*models.Alert, error) {
	alerts, err := s.list(ctx, f, "created_at DESC, id DESC")
	if err != nil {
		s.logger.Error("Failed to query alerts", zap.String("user_identifier", f.UserIdentifier), zap.Error(err))
		return nil, storeErr("list alerts", err)
	}
	return alerts, nil
}

func (s *Store) list(ctx context.Context, f models.Filter, order string) ([]*models.Alert, error) {
	where, args := whereClause(f)
	query := "SELECT " + alertColumns + " FROM alerts" + where + " ORDER BY " + order

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// Get returns the alert with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE id = ?"
	a, err := scanAlert(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error("Failed to retrieve alert", zap.Int64("alert_id", id), zap.Error(err))
		return nil, storeErr("get alert", err)
	}
	return a, nil
}

// Create inserts a and assigns its id.
func (s *Store) Create(ctx context.Context, a *models.Alert) error {
	query := `
		INSERT INTO alerts (base_currency, quote_currency, condition_type, target_price, webhook_url,
			is_active, is_triggered, created_at, triggered_at, updated_at, user_identifier, note, trigger_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	err := s.db.QueryRowContext(ctx, s.rebind(query),
		a.BaseCurrency,
		a.QuoteCurrency,
		string(a.ConditionType),
		a.TargetPrice,
		a.WebhookURL,
		a.IsActive,
		a.IsTriggered,
		a.CreatedAt,
		triggeredAt(a),
		a.UpdatedAt,
		a.UserIdentifier,
		a.Note,
		a.TriggerCount,
	).Scan(&a.ID)
	if err != nil {
		s.logger.Error("Failed to create alert in database", zap.String("pair", a.Pair()), zap.Error(err))
		return storeErr("create alert", err)
	}
	return nil
}

// Update applies mutate to the current record of id inside a transaction
// and writes the result back. Errors returned by mutate abort the update
// and are returned unchanged.
func (s *Store) Update(ctx context.Context, id int64, mutate func(*models.Alert) error) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin update", err)
	}
	defer tx.Rollback()

	query := "SELECT " + alertColumns + " FROM alerts WHERE id = ?"
	if s.driver == DriverPostgres {
		query += " FOR UPDATE"
	}
	a, err := scanAlert(tx.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("load alert for update", err)
	}

	if err := mutate(a); err != nil {
		return nil, err
	}
	a.ID = id

	update := `
		UPDATE alerts
		SET base_currency = ?, quote_currency = ?, condition_type = ?, target_price = ?, webhook_url = ?,
			is_active = ?, is_triggered = ?, triggered_at = ?, updated_at = ?, user_identifier = ?,
			note = ?, trigger_count = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, s.rebind(update),
		a.BaseCurrency,
		a.QuoteCurrency,
		string(a.ConditionType),
		a.TargetPrice,
		a.WebhookURL,
		a.IsActive,
		a.IsTriggered,
		triggeredAt(a),
		a.UpdatedAt.UTC(),
		a.UserIdentifier,
		a.Note,
		a.TriggerCount,
		id,
	)
	if err != nil {
		s.logger.Error("Failed to update alert", zap.Int64("alert_id", id), zap.Error(err))
		return nil, storeErr("update alert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit update", err)
	}
	return a, nil
}

// Delete removes the alert with id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM alerts WHERE id = ?"), id)
	if err != nil {
		s.logger.Error("Failed to delete alert", zap.Int64("alert_id", id), zap.Error(err))
		return false, storeErr("delete alert", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("delete alert", err)
	}
	return n > 0, nil
}

// CountBy counts alerts matching f.
func (s *Store) CountBy(ctx context.Context, f models.Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM alerts"+where), args...).Scan(&n); err != nil {
		return 0, storeErr("count alerts", err)
	}
	return n, nil
}

// Stats summarises alerts, optionally scoped to one user identifier.
func (s *Store) Stats(ctx context.Context, userIdentifier string) (models.AlertStats, error) {
	where, args := whereClause(models.Filter{UserIdentifier: userIdentifier})
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_triggered THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active THEN 0 ELSE 1 END), 0)
		FROM alerts` + where

	var st models.AlertStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&st.Total, &st.Active, &st.Triggered, &st.Inactive)
	if err != nil {
		return models.AlertStats{}, storeErr("alert stats", err)
	}
	return st, nil
}
