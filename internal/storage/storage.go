package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoWallet          = errors.New("wallet not bound")
)

// Storage handles all database operations.
//
// Every mutating method runs in its own transaction. Transactions take the
// SQLite write lock up front (_txlock=immediate) and the pool holds a single
// connection, so mutations of the same account never interleave.
type Storage struct {
	db *sqlx.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			balance TEXT NOT NULL DEFAULT '0',
			hashrate TEXT NOT NULL DEFAULT '0',
			referrer_id INTEGER REFERENCES accounts(id),
			is_admin BOOLEAN NOT NULL DEFAULT 0,
			wallet TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(LOWER(username))`,

		`CREATE TABLE IF NOT EXISTS accrual_periods (
			period_start INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			rate TEXT NOT NULL,
			credited INTEGER NOT NULL DEFAULT 0,
			total TEXT NOT NULL DEFAULT '0',
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS accrual_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			amount TEXT NOT NULL,
			kind TEXT NOT NULL,
			period_start INTEGER NOT NULL REFERENCES accrual_periods(period_start),
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accrual_events_account_id ON accrual_events(account_id)`,

		`CREATE TABLE IF NOT EXISTS settings (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS withdrawals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			amount TEXT NOT NULL,
			address TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, id)`,

		`CREATE TABLE IF NOT EXISTS invoices (
			invoice_id TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			amount TEXT NOT NULL,
			asset TEXT NOT NULL,
			hashrate TEXT NOT NULL,
			pay_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'issued',
			created_at TIMESTAMP NOT NULL,
			confirmed_at TIMESTAMP
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return nil
}

// withTx runs fn inside one transaction, committing only if fn succeeds
func (s *Storage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
