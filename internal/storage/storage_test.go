package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v int64) *int64 {
	return &v
}

func TestEnsureAccount_CreateThenRefreshUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "referrer", nil, false)
	require.NoError(t, err)

	acc, created, err := s.EnsureAccount(ctx, 2, "alice", ptr(1), true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, acc.IsAdmin)
	require.NotNil(t, acc.ReferrerID)
	assert.Equal(t, int64(1), *acc.ReferrerID)
	assert.True(t, acc.Balance.IsZero())

	again, created, err := s.EnsureAccount(ctx, 2, "Alice2", ptr(99), false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Alice2", again.Username)
	assert.True(t, again.IsAdmin)
	assert.Equal(t, int64(1), *again.ReferrerID)
}

func TestEnsureAccount_DropsSelfAndUnknownReferrer(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	self, _, err := s.EnsureAccount(ctx, 5, "self", ptr(5), false)
	require.NoError(t, err)
	assert.Nil(t, self.ReferrerID)

	ghost, _, err := s.EnsureAccount(ctx, 6, "ghost", ptr(404), false)
	require.NoError(t, err)
	assert.Nil(t, ghost.ReferrerID)
}

func TestGetAccountByUsername_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 10, "MinerOne", nil, false)
	require.NoError(t, err)
	_, _, err = s.EnsureAccount(ctx, 11, "", nil, false)
	require.NoError(t, err)

	acc, err := s.GetAccountByUsername(ctx, "minerone")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.ID)

	_, err = s.GetAccountByUsername(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetAccount(ctx, 12)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRate_SetAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.GetRate(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetRate(ctx, dec("0.5")))
	require.NoError(t, s.SetRate(ctx, dec("0.02")))

	rate, err := s.GetRate(ctx)
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("0.02")))
}

func creditEveryone(amount decimal.Decimal) AccrualPlanner {
	return func(rate decimal.Decimal, accounts []Account) []Credit {
		var credits []Credit
		for _, a := range accounts {
			credits = append(credits, Credit{AccountID: a.ID, Amount: amount, Kind: AccrualYield})
		}
		return credits
	}
}

func TestApplyAccrual_ClaimsPeriodOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)

	period := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	var seenRate decimal.Decimal
	res, err := s.ApplyAccrual(ctx, period, "run-1", dec("0.01"), func(rate decimal.Decimal, accounts []Account) []Credit {
		seenRate = rate
		return creditEveryone(dec("1.5"))(rate, accounts)
	})
	require.NoError(t, err)
	assert.True(t, seenRate.Equal(dec("0.01")))
	assert.Equal(t, 1, res.Credited)
	assert.True(t, res.Total.Equal(dec("1.5")))

	_, err = s.ApplyAccrual(ctx, period, "run-2", dec("0.01"), creditEveryone(dec("1.5")))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("1.5")))

	count, err := s.CountAccrualEvents(ctx, period.Unix())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyAccrual_ConcurrentPassesCreditOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)

	period := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyAccrual(ctx, period, "run", dec("0.01"), creditEveryone(dec("1")))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				applied++
			} else if errors.Is(err, ErrAlreadyExists) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 7, rejected)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("1")))
}

func TestMixedMutationsOnOneAccountLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)
	require.NoError(t, s.SetWallet(ctx, 1, "TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7"))
	_, err = s.AddBalance(ctx, 1, dec("100"))
	require.NoError(t, err)

	const n = 10
	var ids []int64
	for i := 0; i < n; i++ {
		w, err := s.CreateWithdrawal(ctx, 1, dec("2"))
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}

	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, 3*n)
	for i := 0; i < n; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := s.AddBalance(ctx, 1, dec("5"))
			errs <- err
		}()
		go func(id int64) {
			defer wg.Done()
			_, err := s.DecideWithdrawal(ctx, id, true)
			errs <- err
		}(ids[i])
		go func(period time.Time) {
			defer wg.Done()
			_, err := s.ApplyAccrual(ctx, period, "run", dec("0.01"), creditEveryone(dec("1")))
			errs <- err
		}(base.Add(time.Duration(i) * time.Hour))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// 100 + 10*5 granted - 10*2 withdrawn + 10*1 accrued
	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("140")), acc.Balance.String())

	pending, err := s.ListPendingWithdrawals(ctx, n)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApplyAccrual_UnknownAccountRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)

	period := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	_, err = s.ApplyAccrual(ctx, period, "run", dec("0.01"), func(rate decimal.Decimal, accounts []Account) []Credit {
		return []Credit{
			{AccountID: 1, Amount: dec("1"), Kind: AccrualYield},
			{AccountID: 42, Amount: dec("1"), Kind: AccrualReferral},
		}
	})
	require.Error(t, err)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())

	// The period was not claimed, so a retry succeeds.
	_, err = s.ApplyAccrual(ctx, period, "retry", dec("0.01"), creditEveryone(dec("1")))
	require.NoError(t, err)
}

func TestWithdrawal_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)

	_, err = s.CreateWithdrawal(ctx, 1, dec("1"))
	assert.ErrorIs(t, err, ErrNoWallet)

	require.NoError(t, s.SetWallet(ctx, 1, "0xabc"))
	_, err = s.AddBalance(ctx, 1, dec("5"))
	require.NoError(t, err)

	_, err = s.CreateWithdrawal(ctx, 1, dec("10"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, err := s.CreateWithdrawal(ctx, 1, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, WithdrawalPending, w.Status)
	assert.Equal(t, "0xabc", w.Address)

	// Rebinding the wallet does not touch the filed request.
	require.NoError(t, s.SetWallet(ctx, 1, "0xdef"))

	decided, err := s.DecideWithdrawal(ctx, w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, WithdrawalApproved, decided.Status)
	assert.Equal(t, "0xabc", decided.Address)
	require.NotNil(t, decided.DecidedAt)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())

	_, err = s.DecideWithdrawal(ctx, w.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.DecideWithdrawal(ctx, w.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPendingWithdrawals_OldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)
	require.NoError(t, s.SetWallet(ctx, 1, "0xabc"))
	_, err = s.AddBalance(ctx, 1, dec("10"))
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		w, err := s.CreateWithdrawal(ctx, 1, dec("1"))
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	_, err = s.DecideWithdrawal(ctx, ids[0], false)
	require.NoError(t, err)

	list, err := s.ListPendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)

	limited, err := s.ListPendingWithdrawals(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	rejected, err := s.GetWithdrawal(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, WithdrawalRejected, rejected.Status)
}

func TestInvoice_ConfirmGrantsHashrateOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, _, err := s.EnsureAccount(ctx, 1, "a", nil, false)
	require.NoError(t, err)

	inv := &Invoice{InvoiceID: "777", AccountID: 1, Amount: dec("1"), Asset: "USDT", Hashrate: dec("10")}
	require.NoError(t, s.AddInvoice(ctx, inv))
	assert.ErrorIs(t, s.AddInvoice(ctx, inv), ErrAlreadyExists)

	confirmed, acc, err := s.ConfirmInvoice(ctx, "777")
	require.NoError(t, err)
	assert.Equal(t, InvoiceConfirmed, confirmed.Status)
	assert.True(t, acc.Hashrate.Equal(dec("10")))

	_, _, err = s.ConfirmInvoice(ctx, "777")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, _, err = s.ConfirmInvoice(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopByBalance_NumericOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for id, bal := range map[int64]string{1: "9", 2: "10", 3: "0.5"} {
		_, _, err := s.EnsureAccount(ctx, id, "", nil, false)
		require.NoError(t, err)
		_, err = s.AddBalance(ctx, id, dec(bal))
		require.NoError(t, err)
	}

	top, err := s.TopByBalance(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].ID)
	assert.Equal(t, int64(1), top[1].ID)

	count, err := s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Storage{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestDecideWithdrawal_DebitFailureRollsBack(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, account_id, amount, address, status, created_at, decided_at FROM withdrawals`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "address", "status", "created_at", "decided_at"}).
			AddRow(int64(3), int64(1), "5", "0xabc", "pending", time.Now(), nil))
	mock.ExpectQuery(`SELECT balance FROM accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("7"))
	mock.ExpectExec(`UPDATE accounts SET balance`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := s.DecideWithdrawal(context.Background(), 3, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debit account")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideWithdrawal_InsufficientBalanceKeepsPending(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM withdrawals`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "address", "status", "created_at", "decided_at"}).
			AddRow(int64(3), int64(1), "5", "0xabc", "pending", time.Now(), nil))
	mock.ExpectQuery(`SELECT balance FROM accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("4.99"))
	mock.ExpectRollback()

	_, err := s.DecideWithdrawal(context.Background(), 3, true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}
