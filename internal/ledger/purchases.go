package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/cloud-miner/internal/cryptopay"
	"github.com/suspectuso/cloud-miner/internal/metrics"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// PaymentProvider issues payable invoices
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description, payload string) (*cryptopay.Invoice, error)
}

// Pack is what one purchase costs and grants
type Pack struct {
	Asset    string
	Price    decimal.Decimal
	Hashrate decimal.Decimal
}

// Purchases sells hashrate packs through the payment provider
type Purchases struct {
	storage  *storage.Storage
	provider PaymentProvider
	pack     Pack
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPurchases(store *storage.Storage, provider PaymentProvider, pack Pack, logger *slog.Logger) *Purchases {
	return &Purchases{
		storage:  store,
		provider: provider,
		pack:     pack,
		timeout:  15 * time.Second,
		logger:   logger,
	}
}

// Pack returns the configured hashrate pack
func (p *Purchases) Pack() Pack {
	return p.pack
}

// CreateInvoice asks the provider for an invoice of the pack price and records
// it as issued. Nothing is stored when the provider fails.
func (p *Purchases) CreateInvoice(ctx context.Context, accountID int64) (*storage.Invoice, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	description := fmt.Sprintf("Покупка %s GH/s", p.pack.Hashrate.String())
	issued, err := p.provider.CreateInvoice(callCtx, p.pack.Asset, p.pack.Price, description, strconv.FormatInt(accountID, 10))
	if err != nil {
		p.logger.Error("create invoice failed", "user_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExternalCollaborator, err)
	}

	inv := &storage.Invoice{
		InvoiceID: issued.ID,
		AccountID: accountID,
		Amount:    p.pack.Price,
		Asset:     p.pack.Asset,
		Hashrate:  p.pack.Hashrate,
		PayURL:    issued.PayURL,
		Status:    storage.InvoiceIssued,
	}
	if err := p.storage.AddInvoice(ctx, inv); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: duplicate invoice id %s", ErrExternalCollaborator, issued.ID)
		}
		return nil, fmt.Errorf("record invoice: %w", err)
	}

	metrics.RecordInvoice(string(storage.InvoiceIssued))
	p.logger.Info("invoice issued", "user_id", accountID, "invoice_id", inv.InvoiceID)
	return inv, nil
}

// Invoice returns a recorded invoice
func (p *Purchases) Invoice(ctx context.Context, invoiceID string) (*storage.Invoice, error) {
	inv, err := p.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, storageErr("get invoice "+invoiceID, err)
	}
	return inv, nil
}

// ConfirmInvoice grants the pack hashrate to the invoice owner exactly once
func (p *Purchases) ConfirmInvoice(ctx context.Context, invoiceID string) (*storage.Invoice, error) {
	inv, acc, err := p.storage.ConfirmInvoice(ctx, invoiceID)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, ErrAlreadyConfirmed
	}
	if err != nil {
		return nil, storageErr("confirm invoice "+invoiceID, err)
	}

	metrics.RecordInvoice(string(storage.InvoiceConfirmed))
	p.logger.Info("invoice confirmed",
		"user_id", acc.ID,
		"invoice_id", inv.InvoiceID,
		"hashrate", acc.Hashrate.String(),
	)
	return inv, nil
}
