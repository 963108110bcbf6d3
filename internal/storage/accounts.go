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

const selectAccount = `SELECT id, username, balance, hashrate, referrer_id, is_admin, wallet, created_at FROM accounts`

func getAccount(ctx context.Context, q sqlx.QueryerContext, id int64) (*Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, q, &a, selectAccount+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return &a, nil
}

// EnsureAccount creates the account on first contact and only refreshes the
// username afterwards. The referrer is kept only if it differs from id and
// already exists. created reports whether a new row was inserted.
func (s *Storage) EnsureAccount(ctx context.Context, id int64, username string, referrerID *int64, isAdmin bool) (acc *Account, created bool, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := getAccount(ctx, tx, id)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `UPDATE accounts SET username = ? WHERE id = ?`, username, id); err != nil {
				return fmt.Errorf("update username: %w", err)
			}
		case errors.Is(err, ErrNotFound):
			var ref *int64
			if referrerID != nil && *referrerID != id {
				if _, err := getAccount(ctx, tx, *referrerID); err == nil {
					ref = referrerID
				} else if !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO accounts (id, username, referrer_id, is_admin, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				id, username, ref, isAdmin, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert account: %w", err)
			}
			created = true
		default:
			return err
		}

		acc, err = getAccount(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return acc, created, nil
}

// GetAccount returns an account by ID
func (s *Storage) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return getAccount(ctx, s.db, id)
}

// GetAccountByUsername finds the oldest account with the given username, ignoring case
func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a,
		selectAccount+` WHERE username != '' AND LOWER(username) = LOWER(?) ORDER BY id ASC LIMIT 1`,
		username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by username: %w", err)
	}
	return &a, nil
}

// SetWallet binds a withdrawal address to the account
func (s *Storage) SetWallet(ctx context.Context, id int64, wallet string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET wallet = ? WHERE id = ?`, wallet, id)
	if err != nil {
		return fmt.Errorf("set wallet: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddBalance credits amount to the account and returns the updated row
func (s *Storage) AddBalance(ctx context.Context, id int64, amount decimal.Decimal) (*Account, error) {
	var acc *Account
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		a, err := getAccount(ctx, tx, id)
		if err != nil {
			return err
		}

		a.Balance = a.Balance.Add(amount)
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, a.Balance, id); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// CountAccounts returns the number of known accounts
func (s *Storage) CountAccounts(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM accounts`)
	return count, err
}

// TopByBalance returns the richest accounts first
func (s *Storage) TopByBalance(ctx context.Context, limit int) ([]Account, error) {
	var accounts []Account
	err := s.db.SelectContext(ctx, &accounts,
		selectAccount+` ORDER BY CAST(balance AS REAL) DESC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top by balance: %w", err)
	}
	return accounts, nil
}
