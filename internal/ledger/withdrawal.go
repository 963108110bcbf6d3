package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/cloud-miner/internal/metrics"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// Amounts carry at most amountScale fractional digits and stay below
// 10^amountIntDigits. The exponent bound is checked before any comparison,
// which rescales both operands to a common exponent.
const (
	amountScale       = 18
	amountIntDigits   = 18
	amountMaxExponent = 64
)

var amountLimit = decimal.New(1, amountIntDigits)

// ParseAmount reads a user supplied amount. A comma is accepted as the
// decimal separator. Digits past amountScale are rounded off.
func ParseAmount(text string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if s == "" {
		return decimal.Zero, invalid("amount", ReasonNotANumber)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("amount", ReasonNotANumber)
	}
	if err := checkAmount("amount", d); err != nil {
		return decimal.Zero, err
	}
	return d.Round(amountScale), nil
}

// checkAmount rejects values too large or too finely scaled to handle
func checkAmount(field string, d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > amountMaxExponent || exp < -amountMaxExponent {
		return invalid(field, ReasonOutOfRange)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return invalid(field, ReasonOutOfRange)
	}
	return nil
}

// Withdrawals is the request/approval workflow
type Withdrawals struct {
	storage *storage.Storage
	logger  *slog.Logger
}

func NewWithdrawals(store *storage.Storage, logger *slog.Logger) *Withdrawals {
	return &Withdrawals{
		storage: store,
		logger:  logger,
	}
}

// RequestWithdrawal files a pending request for amount against the account's
// bound wallet. The balance is not debited until approval.
func (w *Withdrawals) RequestWithdrawal(ctx context.Context, accountID int64, amount decimal.Decimal) (*storage.Withdrawal, error) {
	if err := checkAmount("amount", amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", ReasonNotPositive)
	}

	req, err := w.storage.CreateWithdrawal(ctx, accountID, amount)
	if err != nil {
		return nil, storageErr("request withdrawal", err)
	}

	metrics.RecordWithdrawal(string(storage.WithdrawalPending))
	w.logger.Info("withdrawal requested",
		"withdrawal_id", req.ID,
		"user_id", accountID,
		"amount", amount.String(),
	)
	return req, nil
}

// DecideWithdrawal approves or rejects a pending request. Approval debits the
// balance in the same transaction and fails, leaving the request pending,
// if the balance no longer covers it.
func (w *Withdrawals) DecideWithdrawal(ctx context.Context, id int64, approve bool) (*storage.Withdrawal, error) {
	req, err := w.storage.DecideWithdrawal(ctx, id, approve)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("decide withdrawal %d", id), err)
	}

	metrics.RecordWithdrawal(string(req.Status))
	w.logger.Info("withdrawal decided",
		"withdrawal_id", req.ID,
		"user_id", req.AccountID,
		"status", string(req.Status),
	)
	return req, nil
}

// ListPending returns up to limit pending requests, oldest first
func (w *Withdrawals) ListPending(ctx context.Context, limit int) ([]storage.Withdrawal, error) {
	list, err := w.storage.ListPendingWithdrawals(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return list, nil
}
