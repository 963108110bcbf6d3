package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/suspectuso/cloud-miner/internal/metrics"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// DefaultReferralShare is the part of own yield paid to the referrer
var DefaultReferralShare = decimal.RequireFromString("0.01")

// PassResult summarizes an applied accrual pass
type PassResult struct {
	PeriodStart time.Time
	RunID       string
	Rate        decimal.Decimal
	Credited    int
	Total       decimal.Decimal
}

// PlanAccrual computes the credits of one pass. Every account with positive
// yield (hashrate × rate) gets a yield credit; its referrer, if present in
// accounts, gets share of that yield as a referral credit.
func PlanAccrual(rate decimal.Decimal, accounts []storage.Account, share decimal.Decimal) []storage.Credit {
	known := make(map[int64]bool, len(accounts))
	for _, a := range accounts {
		known[a.ID] = true
	}

	var credits []storage.Credit
	for _, a := range accounts {
		if !a.Hashrate.IsPositive() {
			continue
		}
		own := a.Hashrate.Mul(rate)
		if !own.IsPositive() {
			continue
		}
		credits = append(credits, storage.Credit{AccountID: a.ID, Amount: own, Kind: storage.AccrualYield})

		if a.ReferrerID == nil || !known[*a.ReferrerID] {
			continue
		}
		bonus := own.Mul(share)
		if !bonus.IsPositive() {
			continue
		}
		credits = append(credits, storage.Credit{AccountID: *a.ReferrerID, Amount: bonus, Kind: storage.AccrualReferral})
	}
	return credits
}

// Engine runs accrual passes
type Engine struct {
	storage  *storage.Storage
	settings *Settings
	interval time.Duration
	share    decimal.Decimal
	logger   *slog.Logger
}

// NewEngine creates an accrual engine paying once per interval
func NewEngine(store *storage.Storage, settings *Settings, interval time.Duration, share decimal.Decimal, logger *slog.Logger) *Engine {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Engine{
		storage:  store,
		settings: settings,
		interval: interval,
		share:    share,
		logger:   logger,
	}
}

// PeriodStart returns the period that contains at
func (e *Engine) PeriodStart(at time.Time) time.Time {
	return at.UTC().Truncate(e.interval)
}

// RunAccrualPass pays the period containing at. The rate is read inside the
// pass transaction. A period already paid returns ErrPeriodAlreadyAccrued.
func (e *Engine) RunAccrualPass(ctx context.Context, at time.Time) (*PassResult, error) {
	start := time.Now()
	period := e.PeriodStart(at)
	runID := uuid.NewString()

	var yields, referrals int
	plan := func(rate decimal.Decimal, accounts []storage.Account) []storage.Credit {
		credits := PlanAccrual(rate, accounts, e.share)
		yields, referrals = 0, 0
		for _, c := range credits {
			if c.Kind == storage.AccrualReferral {
				referrals++
			} else {
				yields++
			}
		}
		return credits
	}

	p, err := e.storage.ApplyAccrual(ctx, period, runID, e.settings.DefaultRate(), plan)
	if errors.Is(err, storage.ErrAlreadyExists) {
		metrics.RecordAccrualPass("skipped", time.Since(start))
		e.logger.Info("accrual period already paid", "period", period.Format(time.RFC3339))
		return nil, ErrPeriodAlreadyAccrued
	}
	if err != nil {
		metrics.RecordAccrualPass("failed", time.Since(start))
		return nil, fmt.Errorf("accrual pass %s: %w", period.Format(time.RFC3339), err)
	}

	metrics.RecordAccrualPass("applied", time.Since(start))
	metrics.RecordAccrualEvents(string(storage.AccrualYield), yields)
	metrics.RecordAccrualEvents(string(storage.AccrualReferral), referrals)

	e.logger.Info("accrual pass applied",
		"period", period.Format(time.RFC3339),
		"run_id", runID,
		"rate", p.Rate.String(),
		"credited", p.Credited,
		"total", p.Total.String(),
	)

	return &PassResult{
		PeriodStart: period,
		RunID:       p.RunID,
		Rate:        p.Rate,
		Credited:    p.Credited,
		Total:       p.Total,
	}, nil
}
