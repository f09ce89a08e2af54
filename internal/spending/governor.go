package spending

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var ErrInvalidLimit = errors.New("invalid spending limit")

var monetaryPattern = regexp.MustCompile(`^\d+(\.\d{1,6})?$`)

type (
	SpendingLimit = database.SpendingLimit
	Charge        = database.Charge
)

// Store is the persistence the governor needs
type Store interface {
	GetSpendingLimit(ctx context.Context, identity string) (*database.SpendingLimit, error)
	UpsertSpendingLimit(ctx context.Context, limit *database.SpendingLimit) error
	DeleteSpendingLimit(ctx context.Context, identity string) (bool, error)
	InsertCharge(ctx context.Context, charge *database.Charge) error
	MarkChargeCompleted(ctx context.Context, signature string) (bool, error)
	GetChargeBySignature(ctx context.Context, signature string) (*database.Charge, error)
	SumCompletedCharges(ctx context.Context, identity string, dayStart, monthStart, now time.Time) (*database.ChargeTotals, error)
}

// LimitsPatch holds the fields to change; nil keeps the current value
type LimitsPatch struct {
	PerTransaction *string
	Daily          *string
	Monthly        *string
	Enabled        *bool
}

// SpendingStats is derived from completed charges in the current UTC day and month
type SpendingStats struct {
	Today        string     `json:"today"`
	ThisMonth    string     `json:"this_month"`
	ChargeCount  int        `json:"charge_count"`
	LastChargeAt *time.Time `json:"last_charge_at,omitempty"`
}

// LimitCheck is the outcome of CheckLimit
type LimitCheck struct {
	Allowed         bool           `json:"allowed"`
	Reason          string         `json:"reason,omitempty"`
	CurrentSpending *SpendingStats `json:"current_spending,omitempty"`
	Limits          *SpendingLimit `json:"limits,omitempty"`
}

type Governor struct {
	store    Store
	clock    utils.Clock
	defaults SpendingLimit
	logger   *utils.LogsManager
}

func NewGovernor(store Store, cm *utils.ConfigManager, clock utils.Clock, logger *utils.LogsManager) *Governor {
	if clock == nil {
		clock = utils.NewRealClock()
	}

	return &Governor{
		store: store,
		clock: clock,
		defaults: SpendingLimit{
			PerTransaction: cm.GetConfigWithDefault("spending_default_per_transaction", "1.00"),
			Daily:          cm.GetConfigWithDefault("spending_default_daily", "10.00"),
			Monthly:        cm.GetConfigWithDefault("spending_default_monthly", "100.00"),
			Enabled:        true,
		},
		logger: logger,
	}
}

// ValidateAmount checks the fixed monetary format and that the value is positive
func ValidateAmount(value string) error {
	if !monetaryPattern.MatchString(value) {
		return fmt.Errorf("%w: %q must look like 12.345678", ErrInvalidLimit, value)
	}
	if strings.Trim(value, "0.") == "" {
		return fmt.Errorf("%w: %q must be greater than zero", ErrInvalidLimit, value)
	}
	return nil
}

// SetLimits merges patch into the stored limit, or into the defaults on first use
func (g *Governor) SetLimits(ctx context.Context, identity string, patch LimitsPatch) (*SpendingLimit, error) {
	for _, v := range []*string{patch.PerTransaction, patch.Daily, patch.Monthly} {
		if v == nil {
			continue
		}
		if err := ValidateAmount(*v); err != nil {
			return nil, err
		}
	}

	now := g.clock.Now().UTC()

	current, err := g.store.GetSpendingLimit(ctx, identity)
	if err != nil {
		return nil, err
	}
	if current == nil {
		fresh := g.defaults
		fresh.Identity = identity
		fresh.CreatedAt = now
		current = &fresh
	}

	merged := *current
	if patch.PerTransaction != nil {
		merged.PerTransaction = *patch.PerTransaction
	}
	if patch.Daily != nil {
		merged.Daily = *patch.Daily
	}
	if patch.Monthly != nil {
		merged.Monthly = *patch.Monthly
	}
	if patch.Enabled != nil {
		merged.Enabled = *patch.Enabled
	}
	merged.UpdatedAt = now

	if err := g.store.UpsertSpendingLimit(ctx, &merged); err != nil {
		return nil, err
	}

	g.logger.Info(fmt.Sprintf("Spending limits for %s set to %s/%s/%s (enabled %v)",
		identity, merged.PerTransaction, merged.Daily, merged.Monthly, merged.Enabled), "spending")
	return &merged, nil
}

// GetLimits returns nil when identity has no limit
func (g *Governor) GetLimits(ctx context.Context, identity string) (*SpendingLimit, error) {
	return g.store.GetSpendingLimit(ctx, identity)
}

func (g *Governor) ResetLimits(ctx context.Context, identity string) error {
	deleted, err := g.store.DeleteSpendingLimit(ctx, identity)
	if err != nil {
		return err
	}
	if deleted {
		g.logger.Info(fmt.Sprintf("Spending limits for %s removed", identity), "spending")
	}
	return nil
}

func (g *Governor) GetSpendingStats(ctx context.Context, identity string) (*SpendingStats, error) {
	stats, _, err := g.stats(ctx, identity)
	return stats, err
}

func (g *Governor) stats(ctx context.Context, identity string) (*SpendingStats, *database.ChargeTotals, error) {
	now := g.clock.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	totals, err := g.store.SumCompletedCharges(ctx, identity, dayStart, monthStart, now)
	if err != nil {
		return nil, nil, err
	}

	return &SpendingStats{
		Today:        utils.MicrosToDecimal(totals.DayMicros),
		ThisMonth:    utils.MicrosToDecimal(totals.MonthMicros),
		ChargeCount:  totals.MonthCount,
		LastChargeAt: totals.LastChargeAt,
	}, totals, nil
}

// CheckLimit decides whether identity may spend proposed. The per-transaction
// ceiling is checked before any charge history is read.
func (g *Governor) CheckLimit(ctx context.Context, identity string, proposed string) (*LimitCheck, error) {
	proposedMicros, err := utils.DecimalToMicros(proposed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLimit, err)
	}

	limits, err := g.store.GetSpendingLimit(ctx, identity)
	if err != nil {
		return nil, err
	}
	if limits == nil || !limits.Enabled {
		return &LimitCheck{Allowed: true}, nil
	}

	ceilings, err := parseCeilings(limits)
	if err != nil {
		return nil, err
	}

	if proposedMicros > ceilings.perTransaction {
		return &LimitCheck{
			Allowed: false,
			Reason:  fmt.Sprintf("amount %s exceeds per-transaction limit of %s", utils.MicrosToDecimal(proposedMicros), limits.PerTransaction),
			Limits:  limits,
		}, nil
	}

	stats, totals, err := g.stats(ctx, identity)
	if err != nil {
		return nil, err
	}

	if totals.DayMicros+proposedMicros > ceilings.daily {
		return &LimitCheck{
			Allowed:         false,
			Reason:          fmt.Sprintf("daily limit of %s would be exceeded (spent today: %s)", limits.Daily, stats.Today),
			CurrentSpending: stats,
			Limits:          limits,
		}, nil
	}

	if totals.MonthMicros+proposedMicros > ceilings.monthly {
		return &LimitCheck{
			Allowed:         false,
			Reason:          fmt.Sprintf("monthly limit of %s would be exceeded (spent this month: %s)", limits.Monthly, stats.ThisMonth),
			CurrentSpending: stats,
			Limits:          limits,
		}, nil
	}

	return &LimitCheck{
		Allowed:         true,
		CurrentSpending: stats,
		Limits:          limits,
	}, nil
}

// RecordCharge appends an executed payment to the charge history
func (g *Governor) RecordCharge(ctx context.Context, charge *Charge) error {
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = g.clock.Now().UTC()
	}
	if err := g.store.InsertCharge(ctx, charge); err != nil {
		g.logger.Error(fmt.Sprintf("Failed to record charge %s: %v", charge.Signature, err), "spending")
		return err
	}

	g.logger.Info(fmt.Sprintf("Recorded %s charge %s of %s for %s",
		charge.Status, charge.Signature, utils.MicrosToDecimal(charge.AmountMicros), charge.Identity), "spending")
	return nil
}

// ConfirmCharge marks an unverified charge completed once the payment has
// verified after all. It reports whether a charge changed.
func (g *Governor) ConfirmCharge(ctx context.Context, signature string) (bool, error) {
	changed, err := g.store.MarkChargeCompleted(ctx, signature)
	if err != nil {
		return false, err
	}
	if changed {
		g.logger.Info(fmt.Sprintf("Charge %s confirmed", signature), "spending")
	}
	return changed, nil
}

// ChargeBySignature returns the charge recorded for signature, nil when none is
func (g *Governor) ChargeBySignature(ctx context.Context, signature string) (*Charge, error) {
	return g.store.GetChargeBySignature(ctx, signature)
}

type ceilings struct {
	perTransaction int64
	daily          int64
	monthly        int64
}

func parseCeilings(limits *SpendingLimit) (*ceilings, error) {
	var c ceilings
	var err error

	if c.perTransaction, err = utils.DecimalToMicros(limits.PerTransaction); err != nil {
		return nil, fmt.Errorf("%w: stored per-transaction limit: %v", ErrInvalidLimit, err)
	}
	if c.daily, err = utils.DecimalToMicros(limits.Daily); err != nil {
		return nil, fmt.Errorf("%w: stored daily limit: %v", ErrInvalidLimit, err)
	}
	if c.monthly, err = utils.DecimalToMicros(limits.Monthly); err != nil {
		return nil, fmt.Errorf("%w: stored monthly limit: %v", ErrInvalidLimit, err)
	}

	return &c, nil
}
