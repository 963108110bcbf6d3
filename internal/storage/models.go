package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a ledger account keyed by the messenger user id
type Account struct {
	ID         int64           `db:"id"`
	Username   string          `db:"username"`
	Balance    decimal.Decimal `db:"balance"`
	Hashrate   decimal.Decimal `db:"hashrate"`
	ReferrerID *int64          `db:"referrer_id"`
	IsAdmin    bool            `db:"is_admin"`
	Wallet     string          `db:"wallet"`
	CreatedAt  time.Time       `db:"created_at"`
}

// HasWallet reports whether a withdrawal address is bound
func (a *Account) HasWallet() bool {
	return a.Wallet != ""
}

type AccrualKind string

const (
	AccrualYield    AccrualKind = "yield"
	AccrualReferral AccrualKind = "referral"
)

// AccrualEvent is one credited amount of one accrual pass
type AccrualEvent struct {
	ID          int64           `db:"id"`
	AccountID   int64           `db:"account_id"`
	Amount      decimal.Decimal `db:"amount"`
	Kind        AccrualKind     `db:"kind"`
	PeriodStart int64           `db:"period_start"`
	CreatedAt   time.Time       `db:"created_at"`
}

// AccrualPeriod marks a period as paid
type AccrualPeriod struct {
	PeriodStart int64           `db:"period_start"`
	RunID       string          `db:"run_id"`
	Rate        decimal.Decimal `db:"rate"`
	Credited    int             `db:"credited"`
	Total       decimal.Decimal `db:"total"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Credit is a planned balance increase produced by an accrual planner
type Credit struct {
	AccountID int64
	Amount    decimal.Decimal
	Kind      AccrualKind
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Withdrawal is a user payout request awaiting an operator decision
type Withdrawal struct {
	ID        int64            `db:"id"`
	AccountID int64            `db:"account_id"`
	Amount    decimal.Decimal  `db:"amount"`
	Address   string           `db:"address"`
	Status    WithdrawalStatus `db:"status"`
	CreatedAt time.Time        `db:"created_at"`
	DecidedAt *time.Time       `db:"decided_at"`
}

type InvoiceStatus string

const (
	InvoiceIssued    InvoiceStatus = "issued"
	InvoiceConfirmed InvoiceStatus = "confirmed"
)

// Invoice is a hashrate purchase issued by the payment provider
type Invoice struct {
	InvoiceID   string          `db:"invoice_id"`
	AccountID   int64           `db:"account_id"`
	Amount      decimal.Decimal `db:"amount"`
	Asset       string          `db:"asset"`
	Hashrate    decimal.Decimal `db:"hashrate"`
	PayURL      string          `db:"pay_url"`
	Status      InvoiceStatus   `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	ConfirmedAt *time.Time      `db:"confirmed_at"`
}
