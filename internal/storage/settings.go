package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RateKey stores the accrual rate in USDT per GH/s per day
const RateKey = "rate_usdt_per_gh_per_day"

func getDecimalSetting(ctx context.Context, q sqlx.QueryerContext, key string) (decimal.Decimal, error) {
	var raw string
	err := sqlx.GetContext(ctx, q, &raw, `SELECT v FROM settings WHERE k = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get setting %s: %w", key, err)
	}

	val, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse setting %s: %w", key, err)
	}
	return val, nil
}

// GetRate returns the stored accrual rate or ErrNotFound if it was never set
func (s *Storage) GetRate(ctx context.Context) (decimal.Decimal, error) {
	return getDecimalSetting(ctx, s.db, RateKey)
}

// SetRate upserts the accrual rate
func (s *Storage) SetRate(ctx context.Context, rate decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		RateKey, rate.String(),
	)
	if err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	return nil
}
