/**
 * @description
 * Scheduled job implementations for the referral-service.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/referral-service/internal/domain"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	promotions *PromotionService
	dividends  *DividendService
	clock      Clock
	logger     *slog.Logger
	timeout    time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(promotions *PromotionService, dividends *DividendService, clock Clock, logger *slog.Logger) *Jobs {
	return &Jobs{
		promotions: promotions,
		dividends:  dividends,
		clock:      clock,
		logger:     logger,
		timeout:    time.Hour,
	}
}

// SettleDividends settles the most recent closed period.
func (j *Jobs) SettleDividends() {
	period := j.dividends.LastClosedPeriod(j.clock.Now())
	logger := j.logger.With("period", period.Format(time.DateOnly))
	logger.Info("starting dividend settlement job")

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.dividends.Settle(ctx, period)
	switch {
	case errors.Is(err, domain.ErrPeriodSettled):
		logger.Info("period already settled, nothing to do")
		return
	case errors.Is(err, domain.ErrSettlementBusy):
		logger.Warn("settlement already running elsewhere")
		return
	case err != nil:
		logger.Error("dividend settlement job failed", "error", err)
		return
	}

	logger.Info("dividend settlement job finished",
		"run_id", result.RunID.String(),
		"paid", result.Paid,
		"total_paid", result.TotalPaid.String(),
	)
}

// SweepPromotions refreshes team counters and promotes eligible users.
func (j *Jobs) SweepPromotions() {
	j.logger.Info("starting promotion sweep job")

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.promotions.Sweep(ctx); err != nil {
		j.logger.Error("promotion sweep job failed", "error", err)
		return
	}
	j.logger.Info("promotion sweep job finished")
}
