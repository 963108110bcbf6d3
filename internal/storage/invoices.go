package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const selectInvoice = `SELECT invoice_id, account_id, amount, asset, hashrate, pay_url, status, created_at, confirmed_at FROM invoices`

// AddInvoice records an invoice issued by the payment provider
func (s *Storage) AddInvoice(ctx context.Context, inv *Invoice) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.Status == "" {
		inv.Status = InvoiceIssued
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO invoices (invoice_id, account_id, amount, asset, hashrate, pay_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvoiceID, inv.AccountID, inv.Amount, inv.Asset, inv.Hashrate, inv.PayURL, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetInvoice returns an invoice by its provider ID
func (s *Storage) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	err := s.db.GetContext(ctx, &inv, selectInvoice+` WHERE invoice_id = ?`, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	return &inv, nil
}

// ConfirmInvoice marks an issued invoice as paid and grants its hashrate to
// the owner in one transaction. An invoice already confirmed returns
// ErrAlreadyExists.
func (s *Storage) ConfirmInvoice(ctx context.Context, invoiceID string) (*Invoice, *Account, error) {
	var (
		inv Invoice
		acc *Account
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &inv, selectInvoice+` WHERE invoice_id = ?`, invoiceID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get invoice %s: %w", invoiceID, err)
		}
		if inv.Status != InvoiceIssued {
			return ErrAlreadyExists
		}

		acc, err = getAccount(ctx, tx, inv.AccountID)
		if err != nil {
			return err
		}
		acc.Hashrate = acc.Hashrate.Add(inv.Hashrate)
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET hashrate = ? WHERE id = ?`, acc.Hashrate, acc.ID); err != nil {
			return fmt.Errorf("grant hashrate: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoices SET status = ?, confirmed_at = ? WHERE invoice_id = ?`,
			InvoiceConfirmed, now, invoiceID,
		); err != nil {
			return fmt.Errorf("confirm invoice: %w", err)
		}
		inv.Status = InvoiceConfirmed
		inv.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &inv, acc, nil
}
