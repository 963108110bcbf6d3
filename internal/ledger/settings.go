package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// Settings exposes the process-wide accrual rate
type Settings struct {
	storage     *storage.Storage
	defaultRate decimal.Decimal
	logger      *slog.Logger
}

// NewSettings creates the settings service
func NewSettings(store *storage.Storage, defaultRate decimal.Decimal, logger *slog.Logger) *Settings {
	return &Settings{
		storage:     store,
		defaultRate: defaultRate,
		logger:      logger,
	}
}

// GetRate returns the stored rate or the configured default when unset
func (s *Settings) GetRate(ctx context.Context) (decimal.Decimal, error) {
	rate, err := s.storage.GetRate(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return s.defaultRate, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get rate: %w", err)
	}
	return rate, nil
}

// SetRate stores a new rate. Negative and zero rates are accepted and make
// accrual passes credit nothing.
func (s *Settings) SetRate(ctx context.Context, rate decimal.Decimal) error {
	if err := checkAmount("rate", rate); err != nil {
		return err
	}
	if err := s.storage.SetRate(ctx, rate); err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	s.logger.Info("accrual rate updated", "rate", rate.String())
	return nil
}

// DefaultRate returns the configured fallback rate
func (s *Settings) DefaultRate() decimal.Decimal {
	return s.defaultRate
}
