package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type ChargeStatus string

const (
	ChargeStatusCompleted  ChargeStatus = "completed"
	ChargeStatusUnverified ChargeStatus = "unverified"
)

// Charge is one executed payment. Rows are never deleted.
type Charge struct {
	ID           int64        `json:"id"`
	Identity     string       `json:"identity"`
	Signature    string       `json:"signature"`
	Network      string       `json:"network"`
	Asset        string       `json:"asset"`
	Recipient    string       `json:"recipient"`
	AmountMicros int64        `json:"amount_micros"`
	BaseAmount   string       `json:"base_amount"`
	Status       ChargeStatus `json:"status"`
	URL          string       `json:"url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// MarshalJSON renders timestamps as unix seconds
func (c *Charge) MarshalJSON() ([]byte, error) {
	type Alias Charge
	return json.Marshal(&struct {
		CreatedAt int64 `json:"created_at"`
		*Alias
	}{
		CreatedAt: c.CreatedAt.Unix(),
		Alias:     (*Alias)(c),
	})
}

// ChargeTotals aggregates completed charges of one identity
type ChargeTotals struct {
	DayMicros    int64
	MonthMicros  int64
	MonthCount   int
	LastChargeAt *time.Time
}

func (sqlm *SQLiteManager) InitPaymentChargesTable() error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS payment_charges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			signature TEXT NOT NULL UNIQUE,
			network TEXT NOT NULL,
			asset TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount_micros INTEGER NOT NULL,
			base_amount TEXT NOT NULL,
			status TEXT NOT NULL,
			url TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_payment_charges_identity_time
			ON payment_charges(identity, status, created_at);
	`

	if _, err := sqlm.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create payment_charges table: %v", err)
	}

	return nil
}

// InsertCharge appends a charge and sets its ID
func (sqlm *SQLiteManager) InsertCharge(ctx context.Context, charge *Charge) error {
	result, err := sqlm.db.ExecContext(ctx, `
		INSERT INTO payment_charges (identity, signature, network, asset, recipient, amount_micros, base_amount, status, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, charge.Identity, charge.Signature, charge.Network, charge.Asset, charge.Recipient,
		charge.AmountMicros, charge.BaseAmount, string(charge.Status), charge.URL, charge.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert charge %s: %v", charge.Signature, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get charge id: %v", err)
	}
	charge.ID = id

	return nil
}

// MarkChargeCompleted promotes an unverified charge once it has been verified later
func (sqlm *SQLiteManager) MarkChargeCompleted(ctx context.Context, signature string) (bool, error) {
	rows, err := ExecAffectedRows(ctx, sqlm.db, `
		UPDATE payment_charges SET status = ? WHERE signature = ? AND status = ?
	`, sqlm.logger, "database", string(ChargeStatusCompleted), signature, string(ChargeStatusUnverified))
	if err != nil {
		return false, fmt.Errorf("failed to update charge %s: %v", signature, err)
	}
	return rows > 0, nil
}

// SumCompletedCharges totals completed charges created in [dayStart, now] and [monthStart, now]
func (sqlm *SQLiteManager) SumCompletedCharges(ctx context.Context, identity string, dayStart, monthStart, now time.Time) (*ChargeTotals, error) {
	var (
		totals ChargeTotals
		last   int64
	)

	err := sqlm.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN created_at >= ? THEN amount_micros ELSE 0 END), 0),
			COALESCE(SUM(amount_micros), 0),
			COUNT(*),
			COALESCE(MAX(created_at), 0)
		FROM payment_charges
		WHERE identity = ? AND status = ? AND created_at >= ? AND created_at <= ?
	`, dayStart.UnixMilli(), identity, string(ChargeStatusCompleted), monthStart.UnixMilli(), now.UnixMilli()).
		Scan(&totals.DayMicros, &totals.MonthMicros, &totals.MonthCount, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to sum charges for %s: %v", identity, err)
	}

	if last == 0 {
		// the newest charge may predate this month
		err = sqlm.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(created_at), 0) FROM payment_charges WHERE identity = ? AND status = ?
		`, identity, string(ChargeStatusCompleted)).Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("failed to get last charge for %s: %v", identity, err)
		}
	}
	if last > 0 {
		t := time.UnixMilli(last).UTC()
		totals.LastChargeAt = &t
	}

	return &totals, nil
}

const chargeColumns = `id, identity, signature, network, asset, recipient, amount_micros, base_amount, status, url, created_at`

// ListCharges returns the newest charges of identity first; all identities when identity is empty
func (sqlm *SQLiteManager) ListCharges(ctx context.Context, identity string, limit int) ([]*Charge, error) {
	query := "SELECT " + chargeColumns + " FROM payment_charges"
	args := []interface{}{}
	if identity != "" {
		query += " WHERE identity = ?"
		args = append(args, identity)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	charges, err := QueryRows(ctx, sqlm.db, query, scanCharge, sqlm.logger, "database", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %v", err)
	}
	return charges, nil
}

// GetChargeBySignature returns nil and no error when no charge has the signature
func (sqlm *SQLiteManager) GetChargeBySignature(ctx context.Context, signature string) (*Charge, error) {
	return QueryRowSingle(ctx, sqlm.db,
		"SELECT "+chargeColumns+" FROM payment_charges WHERE signature = ?",
		scanCharge, sqlm.logger, "database", signature)
}

func scanCharge(row rowScanner) (*Charge, error) {
	var (
		charge    Charge
		status    string
		url       sql.NullString
		createdAt int64
	)

	err := row.Scan(&charge.ID, &charge.Identity, &charge.Signature, &charge.Network, &charge.Asset,
		&charge.Recipient, &charge.AmountMicros, &charge.BaseAmount, &status, &url, &createdAt)
	if err != nil {
		return nil, err
	}

	charge.URL = ScanNullableString(url)
	charge.Status = ChargeStatus(status)
	charge.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &charge, nil
}
