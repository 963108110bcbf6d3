package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const selectWithdrawal = `SELECT id, account_id, amount, address, status, created_at, decided_at FROM withdrawals`

// CreateWithdrawal files a pending request after checking, in the same
// transaction, that the account has a wallet and enough balance. The wallet
// address is copied into the request.
func (s *Storage) CreateWithdrawal(ctx context.Context, accountID int64, amount decimal.Decimal) (*Withdrawal, error) {
	var w *Withdrawal
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		acc, err := getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !acc.HasWallet() {
			return ErrNoWallet
		}
		if amount.GreaterThan(acc.Balance) {
			return ErrInsufficientFunds
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx,
			`INSERT INTO withdrawals (account_id, amount, address, status, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			accountID, amount, acc.Wallet, WithdrawalPending, now,
		)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		id, _ := result.LastInsertId()
		w = &Withdrawal{
			ID:        id,
			AccountID: accountID,
			Amount:    amount,
			Address:   acc.Wallet,
			Status:    WithdrawalPending,
			CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// DecideWithdrawal moves a pending request to approved or rejected.
// Approval re-reads the balance and debits it in the same transaction; if the
// balance no longer covers the amount it returns ErrInsufficientFunds and the
// request stays pending. Requests that are not pending return ErrNotFound.
func (s *Storage) DecideWithdrawal(ctx context.Context, id int64, approve bool) (*Withdrawal, error) {
	var w Withdrawal
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &w, selectWithdrawal+` WHERE id = ? AND status = ?`, id, WithdrawalPending)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get withdrawal %d: %w", id, err)
		}

		status := WithdrawalRejected
		if approve {
			var balance decimal.Decimal
			if err := tx.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE id = ?`, w.AccountID); err != nil {
				return fmt.Errorf("get balance: %w", err)
			}
			if balance.LessThan(w.Amount) {
				return ErrInsufficientFunds
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET balance = ? WHERE id = ?`,
				balance.Sub(w.Amount), w.AccountID,
			); err != nil {
				return fmt.Errorf("debit account: %w", err)
			}
			status = WithdrawalApproved
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx,
			`UPDATE withdrawals SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
			status, now, id, WithdrawalPending,
		)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows != 1 {
			return ErrNotFound
		}

		w.Status = status
		w.DecidedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWithdrawal returns a withdrawal by ID
func (s *Storage) GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error) {
	var w Withdrawal
	err := s.db.GetContext(ctx, &w, selectWithdrawal+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal %d: %w", id, err)
	}
	return &w, nil
}

// ListPendingWithdrawals returns pending requests oldest first
func (s *Storage) ListPendingWithdrawals(ctx context.Context, limit int) ([]Withdrawal, error) {
	var list []Withdrawal
	err := s.db.SelectContext(ctx, &list,
		selectWithdrawal+` WHERE status = ? ORDER BY id ASC LIMIT ?`,
		WithdrawalPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	return list, nil
}
