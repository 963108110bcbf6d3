package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// AccrualPlanner turns the rate and the full account set into credits.
// It must only credit accounts present in the given slice.
type AccrualPlanner func(rate decimal.Decimal, accounts []Account) []Credit

// ApplyAccrual pays one period in a single transaction: it claims the period,
// reads the current rate (defaultRate if unset), lets plan compute credits over
// every account and writes balances and events. A period that was already
// claimed returns ErrAlreadyExists and changes nothing.
func (s *Storage) ApplyAccrual(ctx context.Context, periodStart time.Time, runID string, defaultRate decimal.Decimal, plan AccrualPlanner) (*AccrualPeriod, error) {
	var period *AccrualPeriod
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		rate, err := getDecimalSetting(ctx, tx, RateKey)
		if errors.Is(err, ErrNotFound) {
			rate = defaultRate
		} else if err != nil {
			return err
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO accrual_periods (period_start, run_id, rate, created_at)
			 VALUES (?, ?, ?, ?)`,
			periodStart.Unix(), runID, rate, now,
		)
		if err != nil {
			return fmt.Errorf("claim period: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrAlreadyExists
		}

		var accounts []Account
		if err := tx.SelectContext(ctx, &accounts, selectAccount+` ORDER BY id ASC`); err != nil {
			return fmt.Errorf("load accounts: %w", err)
		}

		byID := make(map[int64]*Account, len(accounts))
		for i := range accounts {
			byID[accounts[i].ID] = &accounts[i]
		}

		credits := plan(rate, accounts)

		total := decimal.Zero
		var touched []int64
		seen := make(map[int64]bool)
		for _, c := range credits {
			acc, ok := byID[c.AccountID]
			if !ok {
				return fmt.Errorf("credit to unknown account %d", c.AccountID)
			}
			if !seen[c.AccountID] {
				seen[c.AccountID] = true
				touched = append(touched, c.AccountID)
			}
			acc.Balance = acc.Balance.Add(c.Amount)
			total = total.Add(c.Amount)

			_, err := tx.ExecContext(ctx,
				`INSERT INTO accrual_events (account_id, amount, kind, period_start, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				c.AccountID, c.Amount, c.Kind, periodStart.Unix(), now,
			)
			if err != nil {
				return fmt.Errorf("insert accrual event: %w", err)
			}
		}

		for _, id := range touched {
			if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, byID[id].Balance, id); err != nil {
				return fmt.Errorf("credit account %d: %w", id, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accrual_periods SET credited = ?, total = ? WHERE period_start = ?`,
			len(credits), total, periodStart.Unix(),
		); err != nil {
			return fmt.Errorf("finish period: %w", err)
		}

		period = &AccrualPeriod{
			PeriodStart: periodStart.Unix(),
			RunID:       runID,
			Rate:        rate,
			Credited:    len(credits),
			Total:       total,
			CreatedAt:   now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}
