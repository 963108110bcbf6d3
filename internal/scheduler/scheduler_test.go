package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/cloud-miner/internal/ledger"
)

type accruerStub struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (s *accruerStub) RunAccrualPass(ctx context.Context, at time.Time) (*ledger.PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, at)
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.PassResult{Total: decimal.Zero}, nil
}

func (s *accruerStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestScheduler(stub *accruerStub, schedule string, delay time.Duration) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(stub, schedule, delay, logger)
}

func TestRunAccrual_UsesClock(t *testing.T) {
	stub := &accruerStub{}
	s := newTestScheduler(stub, "@every 24h", time.Hour)
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RunAccrual(context.Background())

	require.Equal(t, 1, stub.count())
	assert.Equal(t, fixed, stub.calls[0])
}

func TestRunAccrual_ToleratesErrors(t *testing.T) {
	for _, err := range []error{ledger.ErrPeriodAlreadyAccrued, errors.New("disk full")} {
		stub := &accruerStub{err: err}
		s := newTestScheduler(stub, "@every 24h", time.Hour)

		assert.NotPanics(t, func() { s.RunAccrual(context.Background()) })
		assert.Equal(t, 1, stub.count())
	}
}

func TestStart_RunsAfterStartupDelay(t *testing.T) {
	stub := &accruerStub{}
	s := newTestScheduler(stub, "@every 24h", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return stub.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Stop()
}

func TestStart_CancelBeforeDelaySkipsInitialRun(t *testing.T) {
	stub := &accruerStub{}
	s := newTestScheduler(stub, "@every 24h", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()

	assert.Equal(t, 0, stub.count())
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := newTestScheduler(&accruerStub{}, "not a schedule", time.Hour)
	assert.Error(t, s.Start(context.Background()))
}
