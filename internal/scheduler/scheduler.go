// Package scheduler triggers accrual passes on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/suspectuso/cloud-miner/internal/ledger"
)

// Accruer runs one accrual pass for the period containing at
type Accruer interface {
	RunAccrualPass(ctx context.Context, at time.Time) (*ledger.PassResult, error)
}

// Scheduler runs the accrual job periodically and once shortly after start
type Scheduler struct {
	cron         *cron.Cron
	accruer      Accruer
	schedule     string
	startupDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time

	wg sync.WaitGroup
}

// New creates a scheduler. schedule uses cron syntax, including "@every 24h".
func New(accruer Accruer, schedule string, startupDelay time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLocation(time.UTC))

	return &Scheduler{
		cron:         c,
		accruer:      accruer,
		schedule:     schedule,
		startupDelay: startupDelay,
		logger:       logger,
		now:          time.Now,
	}
}

// RunAccrual runs one pass and logs its outcome. A period that was already
// paid is not an error.
func (s *Scheduler) RunAccrual(ctx context.Context) {
	res, err := s.accruer.RunAccrualPass(ctx, s.now())
	switch {
	case errors.Is(err, ledger.ErrPeriodAlreadyAccrued):
		s.logger.Info("accrual skipped, period already paid")
	case err != nil:
		s.logger.Error("accrual pass failed", "error", err)
	default:
		s.logger.Info("accrual job finished", "credited", res.Credited, "total", res.Total.String())
	}
}

// Start registers the accrual job, starts cron and schedules the initial run.
// Jobs use ctx; cancel it and call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunAccrual(ctx) }); err != nil {
		return err
	}
	s.logger.Info("scheduled accrual job", "schedule", s.schedule)
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.startupDelay):
			s.RunAccrual(ctx)
		}
	}()

	return nil
}

// Stop stops cron and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
