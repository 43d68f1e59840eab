package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

var settledPeriod = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

func TestAllocate_SplitsByWeight(t *testing.T) {
	got := Allocate(decimal.RequireFromString("200"), []Weight{{UserID: 2, Weight: 3}, {UserID: 1, Weight: 1}})
	if len(got) != 2 {
		t.Fatalf("expected two allocations, got %+v", got)
	}
	if got[0].UserID != 1 || !got[0].Amount.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected user 1 to receive 50.00, got %+v", got[0])
	}
	if got[1].UserID != 2 || !got[1].Amount.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("expected user 2 to receive 150.00, got %+v", got[1])
	}
}

func TestAllocate_TrimsRoundUpsToStayWithinPool(t *testing.T) {
	// 0.05 / 3 = 0.01666.. rounds up to 0.02 each, one cent over the pool.
	got := Allocate(decimal.RequireFromString("0.05"), []Weight{{UserID: 1, Weight: 1}, {UserID: 2, Weight: 1}, {UserID: 3, Weight: 1}})
	sum := decimal.Zero
	for _, a := range got {
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected 0.05 paid, got %s (%+v)", sum, got)
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected the lowest id to give back the cent, got %+v", got)
	}
}

func TestAllocate_NeverExceedsPool(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		pool := decimal.New(rng.Int63n(10_000_000), -int32(rng.Intn(5)))
		n := 1 + rng.Intn(12)
		weights := make([]Weight, n)
		for j := range weights {
			weights[j] = Weight{UserID: int64(j + 1), Weight: 1 + rng.Intn(40)}
		}

		sum := decimal.Zero
		for _, a := range Allocate(pool, weights) {
			if !a.Amount.Equal(a.Amount.Round(2)) {
				t.Fatalf("pool %s: amount %s has more than two decimals", pool, a.Amount)
			}
			sum = sum.Add(a.Amount)
		}
		if sum.GreaterThan(pool) {
			t.Fatalf("pool %s: paid %s exceeds the pool", pool, sum)
		}
		if limit := decimal.NewFromInt(int64(n)).Mul(cent); pool.Sub(sum).GreaterThanOrEqual(limit) {
			t.Fatalf("pool %s: shortfall %s not below %s", pool, pool.Sub(sum), limit)
		}
	}
}

func TestAllocate_IgnoresEmptyInput(t *testing.T) {
	if got := Allocate(decimal.Zero, []Weight{{UserID: 1, Weight: 1}}); len(got) != 0 {
		t.Fatalf("expected nothing for an empty pool, got %+v", got)
	}
	if got := Allocate(decimal.NewFromInt(10), []Weight{{UserID: 1, Weight: 0}}); len(got) != 0 {
		t.Fatalf("expected nothing without positive weights, got %+v", got)
	}
}

// seedDirectors creates director a with no team (weight 1) and director b with
// three top-tier members (weight 3).
func seedDirectors(s *memStore) (a, b int64) {
	a = s.addUser(6, 0)
	b = s.addUser(6, 0)
	for i := 0; i < 3; i++ {
		s.addUser(6, b)
	}
	s.addDirector(a, domain.DirectorActive)
	s.addDirector(b, domain.DirectorActive)
	return a, b
}

func TestSettle_PaysProportionalDividends(t *testing.T) {
	env := newTestEnv()
	a, b := seedDirectors(env.store)
	env.store.sales = decimal.NewFromInt(10000)

	result, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Pool.Equal(decimal.NewFromInt(200)) || !result.TotalPaid.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected pool and total 200, got %s / %s", result.Pool, result.TotalPaid)
	}
	if result.Paid != 2 || result.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if got := env.store.users[a].Withdrawable; !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected director a to hold 50.00, got %s", got)
	}
	if got := env.store.users[b].Withdrawable; !got.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("expected director b to hold 150.00, got %s", got)
	}
	if got := env.store.directors[b].DividendTotal; !got.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("expected director b dividend total 150.00, got %s", got)
	}

	run, err := env.dividends.GetSettlementRun(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.SettlementCompleted || run.Recipients != 2 || run.RunID != result.RunID {
		t.Fatalf("unexpected run: %+v", run)
	}
	if env.publisher.count(domain.RoutingDividendPaid) != 2 || env.publisher.count(domain.RoutingSettlementComplete) != 1 {
		t.Fatalf("unexpected events: %+v", env.publisher.events)
	}

	history, total, err := env.dividends.DividendHistory(context.Background(), b, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || history[0].Weight != 3 {
		t.Fatalf("expected one weight 3 record, got %+v", history)
	}
}

func TestSettle_RefusesCompletedPeriod(t *testing.T) {
	env := newTestEnv()
	seedDirectors(env.store)
	env.store.sales = decimal.NewFromInt(10000)

	if _, err := env.dividends.Settle(context.Background(), settledPeriod); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writes := env.store.writes

	if _, err := env.dividends.Settle(context.Background(), settledPeriod.Add(5*time.Hour)); !errors.Is(err, domain.ErrPeriodSettled) {
		t.Fatalf("expected ErrPeriodSettled, got %v", err)
	}
	if env.store.writes != writes {
		t.Fatalf("expected no further writes, got %d", env.store.writes-writes)
	}
}

func TestSettle_WithoutRecipientsWritesNothing(t *testing.T) {
	t.Run("no directors", func(t *testing.T) {
		env := newTestEnv()
		env.store.sales = decimal.NewFromInt(10000)

		result, err := env.dividends.Settle(context.Background(), settledPeriod)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.TotalPaid.IsZero() || result.Recipients != 0 {
			t.Fatalf("expected nothing paid, got %+v", result)
		}
		if env.store.writes != 0 {
			t.Fatalf("expected no writes, got %d", env.store.writes)
		}
	})

	t.Run("no sales", func(t *testing.T) {
		env := newTestEnv()
		seedDirectors(env.store)

		result, err := env.dividends.Settle(context.Background(), settledPeriod)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Pool.IsZero() || env.store.writes != 0 {
			t.Fatalf("expected an empty pool without writes, got %+v (writes %d)", result, env.store.writes)
		}
	})
}

func TestSettle_RejectsInvalidPeriods(t *testing.T) {
	env := newTestEnv()

	for name, period := range map[string]time.Time{
		"zero":     {},
		"open":     time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		"upcoming": time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
	} {
		if _, err := env.dividends.Settle(context.Background(), period); !errors.Is(err, domain.ErrInvalidPeriod) {
			t.Fatalf("%s: expected ErrInvalidPeriod, got %v", name, err)
		}
	}
}

func TestSettle_RefusesWhileLocked(t *testing.T) {
	env := newTestEnv()
	env.locker.busy = true

	if _, err := env.dividends.Settle(context.Background(), settledPeriod); !errors.Is(err, domain.ErrSettlementBusy) {
		t.Fatalf("expected ErrSettlementBusy, got %v", err)
	}
}

func TestSettle_ResumesInterruptedRun(t *testing.T) {
	env := newTestEnv()
	a, b := seedDirectors(env.store)
	env.store.sales = decimal.NewFromInt(10000)
	env.store.payErr[b] = errors.New("connection reset")

	partial, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err == nil {
		t.Fatal("expected the interrupted run to fail")
	}
	if partial.Paid != 1 {
		t.Fatalf("expected one payment before the failure, got %+v", partial)
	}
	run, _ := env.dividends.GetSettlementRun(context.Background(), settledPeriod)
	if run.Status != domain.SettlementRunning {
		t.Fatalf("expected the run to stay running, got %q", run.Status)
	}

	delete(env.store.payErr, b)
	resumed, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Paid != 1 || resumed.Skipped != 1 {
		t.Fatalf("expected one new payment and one skip, got %+v", resumed)
	}
	if resumed.RunID != partial.RunID {
		t.Fatalf("expected the resumed run to keep id %s, got %s", partial.RunID, resumed.RunID)
	}
	if got := env.store.users[a].Withdrawable; !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected director a to be paid once, got %s", got)
	}

	run, _ = env.dividends.GetSettlementRun(context.Background(), settledPeriod)
	if run.Status != domain.SettlementCompleted || !run.TotalPaid.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected a completed run paying 200, got %+v", run)
	}
}

func TestSettle_ResumeNeverExceedsPoolWhenWeightsMove(t *testing.T) {
	env := newTestEnv()
	a, b := seedDirectors(env.store)
	env.store.sales = decimal.NewFromInt(10000)
	env.store.payErr[b] = errors.New("connection reset")

	if _, err := env.dividends.Settle(context.Background(), settledPeriod); err == nil {
		t.Fatal("expected the interrupted run to fail")
	}
	if got := env.store.users[a].Withdrawable; !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected director a to hold 50.00 after the first run, got %s", got)
	}

	// Director b's team grows before the run is resumed. A fresh split would
	// now give b far more than what is left of the pool.
	delete(env.store.payErr, b)
	for i := 0; i < 9; i++ {
		env.store.addUser(6, b)
	}
	// Late order updates must not move the pool of a claimed run either.
	env.store.sales = decimal.NewFromInt(50000)

	resumed, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resumed.Pool.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected the resumed run to keep pool 200, got %s", resumed.Pool)
	}
	if got := env.store.users[b].Withdrawable; !got.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("expected director b to receive the remaining 150.00, got %s", got)
	}

	total := decimal.Zero
	for _, d := range env.store.dividends {
		total = total.Add(d.Amount)
	}
	if total.GreaterThan(decimal.NewFromInt(200)) {
		t.Fatalf("period paid %s, more than the pool of 200", total)
	}
	run, _ := env.dividends.GetSettlementRun(context.Background(), settledPeriod)
	if run.Status != domain.SettlementCompleted || !run.TotalPaid.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected a completed run paying 200, got %+v", run)
	}
}

func TestSettle_ResumeSplitsRemainderAmongNewDirectors(t *testing.T) {
	env := newTestEnv()
	a, b := seedDirectors(env.store)
	env.store.sales = decimal.NewFromInt(10000)
	env.store.payErr[b] = errors.New("connection reset")

	if _, err := env.dividends.Settle(context.Background(), settledPeriod); err == nil {
		t.Fatal("expected the interrupted run to fail")
	}

	delete(env.store.payErr, b)
	c := env.store.addUser(6, 0)
	env.store.addDirector(c, domain.DirectorActive)

	resumed, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Paid != 2 || resumed.Skipped != 1 || resumed.Recipients != 3 {
		t.Fatalf("unexpected counts: %+v", resumed)
	}
	// 150 left, split 3:1 between b and c.
	if got := env.store.users[b].Withdrawable; !got.Equal(decimal.RequireFromString("112.50")) {
		t.Fatalf("expected director b to hold 112.50, got %s", got)
	}
	if got := env.store.users[c].Withdrawable; !got.Equal(decimal.RequireFromString("37.50")) {
		t.Fatalf("expected director c to hold 37.50, got %s", got)
	}
	if got := env.store.users[a].Withdrawable; !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected director a to keep 50.00, got %s", got)
	}
}

func TestSettle_SkipsFrozenDirectors(t *testing.T) {
	env := newTestEnv()
	a, b := seedDirectors(env.store)
	env.store.directors[a].Status = domain.DirectorFrozen
	env.store.sales = decimal.NewFromInt(10000)

	result, err := env.dividends.Settle(context.Background(), settledPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recipients != 1 || !env.store.users[b].Withdrawable.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected the whole pool to go to director b, got %+v", result)
	}
	if !env.store.users[a].Withdrawable.IsZero() {
		t.Fatalf("expected frozen director a to receive nothing, got %s", env.store.users[a].Withdrawable)
	}
}

func TestLastClosedPeriod(t *testing.T) {
	env := newTestEnv()
	got := env.dividends.LastClosedPeriod(env.clock.Now())
	if !got.Equal(settledPeriod) {
		t.Fatalf("expected %s, got %s", settledPeriod, got)
	}
}
