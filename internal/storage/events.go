package storage

import (
	"context"
	"fmt"
)

// ListAccrualEvents returns the accrual history of an account, newest first
func (s *Storage) ListAccrualEvents(ctx context.Context, accountID int64, limit int) ([]AccrualEvent, error) {
	var events []AccrualEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, account_id, amount, kind, period_start, created_at
		 FROM accrual_events WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list accrual events: %w", err)
	}
	return events, nil
}

// CountAccrualEvents returns how many events were recorded for a period
func (s *Storage) CountAccrualEvents(ctx context.Context, periodStart int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM accrual_events WHERE period_start = ?`, periodStart)
	return count, err
}
