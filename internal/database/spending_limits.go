package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SpendingLimit holds the monetary ceilings for one identity. Amounts are
// decimal strings in whole asset units.
type SpendingLimit struct {
	Identity       string    `json:"identity"`
	PerTransaction string    `json:"per_transaction"`
	Daily          string    `json:"daily"`
	Monthly        string    `json:"monthly"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MarshalJSON renders timestamps as unix seconds
func (sl *SpendingLimit) MarshalJSON() ([]byte, error) {
	type Alias SpendingLimit
	return json.Marshal(&struct {
		CreatedAt int64 `json:"created_at"`
		UpdatedAt int64 `json:"updated_at"`
		*Alias
	}{
		CreatedAt: sl.CreatedAt.Unix(),
		UpdatedAt: sl.UpdatedAt.Unix(),
		Alias:     (*Alias)(sl),
	})
}

func (sqlm *SQLiteManager) InitSpendingLimitsTable() error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS spending_limits (
			identity TEXT PRIMARY KEY,
			per_transaction TEXT NOT NULL,
			daily TEXT NOT NULL,
			monthly TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`

	if _, err := sqlm.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create spending_limits table: %v", err)
	}

	return nil
}

// GetSpendingLimit returns nil and no error when identity has no limit
func (sqlm *SQLiteManager) GetSpendingLimit(ctx context.Context, identity string) (*SpendingLimit, error) {
	limit, err := QueryRowSingle(ctx, sqlm.db, `
		SELECT identity, per_transaction, daily, monthly, enabled, created_at, updated_at
		FROM spending_limits WHERE identity = ?
	`, scanSpendingLimit, sqlm.logger, "database", identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get spending limit for %s: %v", identity, err)
	}
	return limit, nil
}

func scanSpendingLimit(row rowScanner) (*SpendingLimit, error) {
	var (
		limit     SpendingLimit
		enabled   int
		createdAt int64
		updatedAt int64
	)

	if err := row.Scan(&limit.Identity, &limit.PerTransaction, &limit.Daily, &limit.Monthly, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	limit.Enabled = enabled != 0
	limit.CreatedAt = time.UnixMilli(createdAt).UTC()
	limit.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &limit, nil
}

// UpsertSpendingLimit inserts or replaces the limit; created_at is kept from the first insert
func (sqlm *SQLiteManager) UpsertSpendingLimit(ctx context.Context, limit *SpendingLimit) error {
	enabled := 0
	if limit.Enabled {
		enabled = 1
	}

	_, err := sqlm.db.ExecContext(ctx, `
		INSERT INTO spending_limits (identity, per_transaction, daily, monthly, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			per_transaction = excluded.per_transaction,
			daily = excluded.daily,
			monthly = excluded.monthly,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, limit.Identity, limit.PerTransaction, limit.Daily, limit.Monthly, enabled,
		limit.CreatedAt.UnixMilli(), limit.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert spending limit for %s: %v", limit.Identity, err)
	}

	return nil
}

// DeleteSpendingLimit reports whether a record was removed
func (sqlm *SQLiteManager) DeleteSpendingLimit(ctx context.Context, identity string) (bool, error) {
	rows, err := ExecAffectedRows(ctx, sqlm.db, "DELETE FROM spending_limits WHERE identity = ?", sqlm.logger, "database", identity)
	if err != nil {
		return false, fmt.Errorf("failed to delete spending limit for %s: %v", identity, err)
	}
	return rows > 0, nil
}
