package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

// LedgerService applies standalone balance movements.
type LedgerService struct {
	repo   LedgerRepository
	clock  Clock
	logger *slog.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(repo LedgerRepository, clock Clock, logger *slog.Logger) *LedgerService {
	return &LedgerService{repo: repo, clock: clock, logger: logger}
}

// Apply moves amount on one of the user's counters and records the entry. A
// repeated reference returns the original entry with applied=false.
func (s *LedgerService) Apply(ctx context.Context, userID int64, counter domain.LedgerCounter, amount decimal.Decimal, reason string, reference *string) (*domain.LedgerEntry, bool, error) {
	counter, err := domain.ParseLedgerCounter(string(counter))
	if err != nil {
		return nil, false, err
	}
	if amount.IsZero() {
		return nil, false, fmt.Errorf("%w: amount must not be zero", domain.ErrInvalidAmount)
	}
	if counter.Integral() && !amount.IsInteger() {
		return nil, false, fmt.Errorf("%w: %s takes whole points, got %s", domain.ErrInvalidAmount, counter, amount)
	}
	if !counter.Integral() && !amount.Equal(amount.Round(2)) {
		return nil, false, fmt.Errorf("%w: %s takes at most two decimals, got %s", domain.ErrInvalidAmount, counter, amount)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, false, fmt.Errorf("%w: reason is required", domain.ErrInvalidAmount)
	}
	if reference != nil && strings.TrimSpace(*reference) == "" {
		reference = nil
	}

	entry, applied, err := s.repo.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:    userID,
		Counter:   counter,
		Amount:    amount,
		Reason:    reason,
		Reference: reference,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.logger.Info("ledger entry applied",
			"user_id", userID,
			"counter", counter,
			"amount", amount.String(),
			"balance_after", entry.BalanceAfter.String(),
		)
	}
	return entry, applied, nil
}

// Entries pages through a user's ledger. An empty counter lists all counters.
func (s *LedgerService) Entries(ctx context.Context, userID int64, counter domain.LedgerCounter, page, size int) ([]domain.LedgerEntry, int, error) {
	if counter != "" {
		parsed, err := domain.ParseLedgerCounter(string(counter))
		if err != nil {
			return nil, 0, err
		}
		counter = parsed
	}
	return s.repo.ListLedgerEntries(ctx, userID, counter, page, size)
}
