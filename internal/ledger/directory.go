package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/cloud-miner/internal/address"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// Directory resolves accounts and operator rights
type Directory struct {
	storage *storage.Storage
	admins  map[string]bool
	logger  *slog.Logger
}

// NewDirectory creates the account directory. admins holds lowercased
// usernames without the leading @.
func NewDirectory(store *storage.Storage, admins map[string]bool, logger *slog.Logger) *Directory {
	if admins == nil {
		admins = map[string]bool{}
	}
	return &Directory{
		storage: store,
		admins:  admins,
		logger:  logger,
	}
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

func (d *Directory) onAllowList(username string) bool {
	n := normalizeUsername(username)
	return n != "" && d.admins[n]
}

// EnsureAccount creates the account on first contact or refreshes its username.
// A self or unknown referrer is silently dropped, so a referral is lost if
// the referrer only signs up later.
func (d *Directory) EnsureAccount(ctx context.Context, id int64, username string, referrerID *int64) (*storage.Account, error) {
	acc, created, err := d.storage.EnsureAccount(ctx, id, username, referrerID, d.onAllowList(username))
	if err != nil {
		return nil, fmt.Errorf("ensure account %d: %w", id, err)
	}
	if created {
		d.logger.Info("account created", "user_id", id, "username", username, "referrer_id", acc.ReferrerID)
	}
	return acc, nil
}

// GetAccount returns nil without error when the account does not exist
func (d *Directory) GetAccount(ctx context.Context, id int64) (*storage.Account, error) {
	acc, err := d.storage.GetAccount(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return acc, nil
}

// GetAccountByUsername matches case-insensitively, ignoring a leading @.
// The lowest id wins when several accounts share a name.
func (d *Directory) GetAccountByUsername(ctx context.Context, name string) (*storage.Account, error) {
	n := normalizeUsername(name)
	if n == "" {
		return nil, nil
	}
	acc, err := d.storage.GetAccountByUsername(ctx, n)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by username: %w", err)
	}
	return acc, nil
}

// IsOperator reports whether username is on the allow-list or belongs to an
// account stored as admin.
func (d *Directory) IsOperator(ctx context.Context, username string) bool {
	if d.onAllowList(username) {
		return true
	}
	acc, err := d.GetAccountByUsername(ctx, username)
	if err != nil {
		d.logger.Error("operator lookup failed", "username", username, "error", err)
		return false
	}
	return acc != nil && acc.IsAdmin
}

func (d *Directory) RequireOperator(ctx context.Context, username string) error {
	if !d.IsOperator(ctx, username) {
		return ErrPermissionDenied
	}
	return nil
}

// BindWallet classifies candidate and stores the normalized address
func (d *Directory) BindWallet(ctx context.Context, id int64, candidate string) (address.Classification, error) {
	c, ok := address.Classify(candidate)
	if !ok {
		return address.Classification{}, invalid("wallet", ReasonUnrecognized)
	}
	if err := d.storage.SetWallet(ctx, id, c.Address); err != nil {
		return address.Classification{}, storageErr("bind wallet", err)
	}
	d.logger.Info("wallet bound", "user_id", id, "chain", string(c.Chain))
	return c, nil
}

// ParseGrant splits operator input of the form "@username 10" or "123456 10"
func ParseGrant(text string) (target string, amount decimal.Decimal, err error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return "", decimal.Zero, invalid("target", ReasonMalformedTarget)
	}
	amount, err = ParseAmount(fields[1])
	if err != nil {
		return "", decimal.Zero, err
	}
	return fields[0], amount, nil
}

// GrantBalance credits amount to the account named by target, which is
// either @username or a numeric id.
func (d *Directory) GrantBalance(ctx context.Context, target string, amount decimal.Decimal) (*storage.Account, error) {
	if err := checkAmount("amount", amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", ReasonNotPositive)
	}

	acc, err := d.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	updated, err := d.storage.AddBalance(ctx, acc.ID, amount)
	if err != nil {
		return nil, storageErr("grant balance", err)
	}
	d.logger.Info("balance granted", "user_id", acc.ID, "amount", amount.String())
	return updated, nil
}

func (d *Directory) resolveTarget(ctx context.Context, target string) (*storage.Account, error) {
	t := strings.TrimSpace(target)
	if t == "" {
		return nil, invalid("target", ReasonMalformedTarget)
	}

	var (
		acc *storage.Account
		err error
	)
	if id, perr := strconv.ParseInt(t, 10, 64); perr == nil && !strings.HasPrefix(t, "@") {
		acc, err = d.GetAccount(ctx, id)
	} else {
		acc, err = d.GetAccountByUsername(ctx, t)
	}
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("grant target %q: %w", t, ErrNotFound)
	}
	return acc, nil
}

func (d *Directory) CountAccounts(ctx context.Context) (int, error) {
	n, err := d.storage.CountAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (d *Directory) TopByBalance(ctx context.Context, limit int) ([]storage.Account, error) {
	list, err := d.storage.TopByBalance(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("top by balance: %w", err)
	}
	return list, nil
}

// History returns the latest accrual events of an account
func (d *Directory) History(ctx context.Context, id int64, limit int) ([]storage.AccrualEvent, error) {
	events, err := d.storage.ListAccrualEvents(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("accrual history: %w", err)
	}
	return events, nil
}
