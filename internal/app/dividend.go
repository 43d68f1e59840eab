/**
 * @description
 * Weekly director dividend settlement.
 *
 * A fixed share of the period's qualifying sales forms the pool. Every active
 * director receives a share proportional to the number of top-tier members in
 * its team (at least the configured minimum weight). Amounts are rounded to the
 * cent and never sum above the pool.
 *
 * @notes
 * - A settlement_runs row guards each period; completed periods are refused.
 *   A period with nothing to pay writes nothing and stays open.
 * - A run interrupted half way can be executed again under the pool it was
 *   claimed with: recipients that already hold a dividend record for the
 *   period keep it, and the rest of the pool is split among the others.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
	"github.com/transfa/referral-service/internal/metrics"
)

var cent = decimal.New(1, -2)

// Weight is the dividend weight of one director.
type Weight struct {
	UserID int64
	Weight int
}

// Allocation is one director's share of a pool.
type Allocation struct {
	UserID int64           `json:"user_id"`
	Weight int             `json:"weight"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocate splits pool across weights. Each share is pool*w/Σw rounded half-up
// to the cent. When rounding pushes the sum above the pool, single cents are
// taken back from the largest round-ups (lowest user id first on ties), so the
// result never exceeds the pool and falls short of it by less than one cent per
// recipient. Non-positive weights and zero amounts are dropped.
func Allocate(pool decimal.Decimal, weights []Weight) []Allocation {
	if !pool.IsPositive() {
		return nil
	}

	sorted := make([]Weight, 0, len(weights))
	totalWeight := int64(0)
	for _, w := range weights {
		if w.Weight <= 0 {
			continue
		}
		sorted = append(sorted, w)
		totalWeight += int64(w.Weight)
	}
	if totalWeight == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	total := decimal.NewFromInt(totalWeight)
	allocations := make([]Allocation, len(sorted))
	roundUps := make([]decimal.Decimal, len(sorted))
	sum := decimal.Zero
	for i, w := range sorted {
		exact := pool.Mul(decimal.NewFromInt(int64(w.Weight))).Div(total)
		amount := exact.Round(2)
		allocations[i] = Allocation{UserID: w.UserID, Weight: w.Weight, Amount: amount}
		roundUps[i] = amount.Sub(exact)
		sum = sum.Add(amount)
	}

	for sum.GreaterThan(pool) {
		idx := 0
		for i := 1; i < len(roundUps); i++ {
			if roundUps[i].GreaterThan(roundUps[idx]) {
				idx = i
			}
		}
		allocations[idx].Amount = allocations[idx].Amount.Sub(cent)
		roundUps[idx] = roundUps[idx].Sub(cent)
		sum = sum.Sub(cent)
	}

	paid := allocations[:0]
	for _, a := range allocations {
		if a.Amount.IsPositive() {
			paid = append(paid, a)
		}
	}
	return paid
}

// SettlementResult reports what one Settle call did.
type SettlementResult struct {
	RunID       uuid.UUID       `json:"run_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	NewSales    decimal.Decimal `json:"new_sales"`
	Pool        decimal.Decimal `json:"pool"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Recipients  int             `json:"recipients"`
	Paid        int             `json:"paid"`
	Skipped     int             `json:"skipped"`
}

// DividendService settles director dividends.
type DividendService struct {
	settlements SettlementRepository
	directors   DirectorRepository
	team        *TeamService
	locker      Locker
	publisher   EventPublisher
	clock       Clock
	rules       domain.IncentiveRules
	location    *time.Location
	lockTTL     time.Duration
	logger      *slog.Logger
}

// NewDividendService creates a new DividendService. Periods are interpreted as
// calendar dates in location.
func NewDividendService(settlements SettlementRepository, directors DirectorRepository, team *TeamService, locker Locker, publisher EventPublisher, clock Clock, rules domain.IncentiveRules, location *time.Location, lockTTL time.Duration, logger *slog.Logger) *DividendService {
	if location == nil {
		location = time.UTC
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &DividendService{
		settlements: settlements,
		directors:   directors,
		team:        team,
		locker:      locker,
		publisher:   publisher,
		clock:       clock,
		rules:       rules,
		location:    location,
		lockTTL:     lockTTL,
		logger:      logger,
	}
}

// PeriodStart truncates t to the start of its calendar day in the business timezone.
func (s *DividendService) PeriodStart(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}

// LastClosedPeriod returns the start of the most recent period that ended at or
// before now.
func (s *DividendService) LastClosedPeriod(now time.Time) time.Time {
	return s.PeriodStart(now).AddDate(0, 0, -s.rules.PeriodDays)
}

// Settle distributes the dividend pool of the period starting at period.
func (s *DividendService) Settle(ctx context.Context, period time.Time) (*SettlementResult, error) {
	if period.IsZero() {
		return nil, fmt.Errorf("%w: period is required", domain.ErrInvalidPeriod)
	}
	start := s.PeriodStart(period)
	end := start.AddDate(0, 0, s.rules.PeriodDays)
	if end.After(s.clock.Now()) {
		return nil, fmt.Errorf("%w: period %s has not closed yet", domain.ErrInvalidPeriod, start.Format(time.DateOnly))
	}
	logger := s.logger.With("period", start.Format(time.DateOnly))

	release, ok, err := s.locker.Acquire(ctx, "referral:settlement:"+start.Format(time.DateOnly), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire settlement lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrSettlementBusy
	}
	defer release()

	existing, err := s.settlements.GetSettlementRun(ctx, start)
	switch {
	case err == nil && existing.Status == domain.SettlementCompleted:
		metrics.SettlementRunsTotal.WithLabelValues("already_settled").Inc()
		return nil, domain.ErrPeriodSettled
	case errors.Is(err, domain.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("load settlement run: %w", err)
	}

	// A resumed run keeps the pool it was claimed with.
	var sales, pool decimal.Decimal
	if existing != nil {
		sales, pool = existing.NewSales, existing.Pool
	} else {
		sales, err = s.settlements.SumQualifyingSales(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("sum qualifying sales: %w", err)
		}
		if sales.IsNegative() {
			sales = decimal.Zero
		}
		pool = sales.Mul(s.rules.DividendRate)
	}

	result := &SettlementResult{
		PeriodStart: start,
		PeriodEnd:   end,
		NewSales:    sales,
		Pool:        pool,
		TotalPaid:   decimal.Zero,
	}

	// Recipients paid by an interrupted run keep their share. Only what is left
	// of the pool is split among the others, so the period never pays more than
	// the pool even when team weights moved in between.
	remaining := pool
	alreadyPaid := map[int64]bool{}
	if existing != nil {
		records, err := s.settlements.ListPeriodDividends(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("load paid dividends: %w", err)
		}
		for _, rec := range records {
			alreadyPaid[rec.UserID] = true
			remaining = remaining.Sub(rec.Amount)
		}
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		result.Skipped = len(alreadyPaid)
	}

	allocations, err := s.allocations(ctx, remaining, alreadyPaid, logger)
	if err != nil {
		metrics.SettlementRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if len(allocations) == 0 && existing == nil {
		// Nothing to pay leaves no trace, so the period stays open.
		metrics.SettlementRunsTotal.WithLabelValues("empty").Inc()
		logger.Info("nothing to settle", "new_sales", sales.String(), "pool", pool.String())
		return result, nil
	}
	result.Recipients = len(allocations) + len(alreadyPaid)

	run, err := s.settlements.ClaimSettlementRun(ctx, domain.SettlementRun{
		PeriodStart: start,
		RunID:       uuid.New(),
		Status:      domain.SettlementRunning,
		NewSales:    sales,
		Pool:        pool,
		StartedAt:   s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrPeriodSettled) {
			metrics.SettlementRunsTotal.WithLabelValues("already_settled").Inc()
		}
		return nil, err
	}
	result.RunID = run.RunID
	logger = logger.With("run_id", run.RunID.String())
	logger.Info("settlement run started",
		"new_sales", sales.String(),
		"pool", pool.String(),
		"remaining", remaining.String(),
		"recipients", len(allocations),
		"already_paid", len(alreadyPaid),
	)

	for _, allocation := range allocations {
		if err := ctx.Err(); err != nil {
			metrics.SettlementRunsTotal.WithLabelValues("interrupted").Inc()
			return result, err
		}

		record := domain.DividendRecord{
			UserID:      allocation.UserID,
			PeriodStart: start,
			Amount:      allocation.Amount,
			NewSales:    sales,
			Weight:      allocation.Weight,
			RunID:       run.RunID,
			CreatedAt:   s.clock.Now(),
		}
		paid, err := s.settlements.PayDividend(ctx, record)
		if err != nil {
			metrics.SettlementRunsTotal.WithLabelValues("failed").Inc()
			logger.Error("dividend payment failed", "user_id", allocation.UserID, "error", err)
			return result, fmt.Errorf("pay dividend to user %d: %w", allocation.UserID, err)
		}
		if !paid {
			result.Skipped++
			continue
		}

		result.Paid++
		result.TotalPaid = result.TotalPaid.Add(allocation.Amount)
		metrics.DividendsPaidTotal.Inc()
		s.publish(ctx, domain.RoutingDividendPaid, domain.DividendPaidEvent{
			EventID:     uuid.NewString(),
			UserID:      allocation.UserID,
			PeriodStart: start.Format(time.DateOnly),
			Amount:      allocation.Amount,
			Weight:      allocation.Weight,
			RunID:       run.RunID.String(),
			Timestamp:   record.CreatedAt,
		}, logger)
	}

	completed, err := s.settlements.CompleteSettlementRun(ctx, start, s.clock.Now())
	if err != nil {
		metrics.SettlementRunsTotal.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("complete settlement run: %w", err)
	}

	metrics.SettlementRunsTotal.WithLabelValues("completed").Inc()
	metrics.LastSettlementPool.Set(pool.InexactFloat64())
	s.publish(ctx, domain.RoutingSettlementComplete, domain.SettlementCompletedEvent{
		EventID:     uuid.NewString(),
		RunID:       run.RunID.String(),
		PeriodStart: start.Format(time.DateOnly),
		NewSales:    sales,
		Pool:        pool,
		TotalPaid:   completed.TotalPaid,
		Recipients:  completed.Recipients,
		Timestamp:   s.clock.Now(),
	}, logger)
	logger.Info("settlement run completed",
		"recipients", result.Recipients,
		"paid", result.Paid,
		"skipped", result.Skipped,
		"total_paid", result.TotalPaid.String(),
	)
	return result, nil
}

// allocations weighs every active director not in exclude with a fresh team
// snapshot and splits pool among them.
func (s *DividendService) allocations(ctx context.Context, pool decimal.Decimal, exclude map[int64]bool, logger *slog.Logger) ([]Allocation, error) {
	if !pool.IsPositive() {
		return nil, nil
	}

	ids, err := s.directors.ListActiveDirectorIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active directors: %w", err)
	}

	weights := make([]Weight, 0, len(ids))
	for _, userID := range ids {
		if exclude[userID] {
			continue
		}
		snapshot, err := s.team.Aggregate(ctx, userID, s.rules.MaxDepth)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("skipping director without an active user", "user_id", userID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("weigh director %d: %w", userID, err)
		}
		weights = append(weights, Weight{UserID: userID, Weight: max(s.rules.MinWeight, snapshot.TeamMaxTier)})
	}
	return Allocate(pool, weights), nil
}

func (s *DividendService) publish(ctx context.Context, routingKey string, event interface{}, logger *slog.Logger) {
	if err := s.publisher.Publish(ctx, domain.EventsExchange, routingKey, event); err != nil {
		logger.Error("failed to publish settlement event", "routing_key", routingKey, "error", err)
	}
}

// DividendHistory pages through a user's dividend records, latest period first.
func (s *DividendService) DividendHistory(ctx context.Context, userID int64, page, size int) ([]domain.DividendRecord, int, error) {
	return s.settlements.ListDividends(ctx, userID, page, size)
}

// GetSettlementRun returns the run recorded for the period starting at period.
func (s *DividendService) GetSettlementRun(ctx context.Context, period time.Time) (*domain.SettlementRun, error) {
	if period.IsZero() {
		return nil, domain.ErrInvalidPeriod
	}
	return s.settlements.GetSettlementRun(ctx, s.PeriodStart(period))
}
