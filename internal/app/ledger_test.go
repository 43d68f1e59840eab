package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

func TestLedgerApply_MovesBalances(t *testing.T) {
	env := newTestEnv()
	id := env.store.addUser(1, 0)

	entry, applied, err := env.ledger.Apply(context.Background(), id, domain.CounterMemberPoints, decimal.NewFromInt(120), "signup bonus", nil)
	if err != nil || !applied {
		t.Fatalf("expected credit to apply, got applied=%v err=%v", applied, err)
	}
	if !entry.BalanceAfter.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected balance 120, got %s", entry.BalanceAfter)
	}

	entry, _, err = env.ledger.Apply(context.Background(), id, "member", decimal.NewFromInt(-20), "redeemed", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Counter != domain.CounterMemberPoints || env.store.users[id].MemberPoints != 100 {
		t.Fatalf("expected 100 member points, got %d", env.store.users[id].MemberPoints)
	}

	if _, _, err := env.ledger.Apply(context.Background(), id, domain.CounterMemberPoints, decimal.NewFromInt(-101), "redeemed", nil); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if env.store.users[id].MemberPoints != 100 {
		t.Fatalf("expected the balance to be untouched, got %d", env.store.users[id].MemberPoints)
	}
}

func TestLedgerApply_ValidatesInput(t *testing.T) {
	env := newTestEnv()
	id := env.store.addUser(1, 0)

	tests := []struct {
		name    string
		counter domain.LedgerCounter
		amount  string
		reason  string
		want    error
	}{
		{name: "unknown counter", counter: "coins", amount: "1", reason: "x", want: domain.ErrInvalidCounter},
		{name: "zero amount", counter: domain.CounterWithdrawable, amount: "0", reason: "x", want: domain.ErrInvalidAmount},
		{name: "fractional points", counter: domain.CounterMerchantPoints, amount: "1.5", reason: "x", want: domain.ErrInvalidAmount},
		{name: "sub-cent money", counter: domain.CounterWithdrawable, amount: "0.001", reason: "x", want: domain.ErrInvalidAmount},
		{name: "missing reason", counter: domain.CounterWithdrawable, amount: "1", reason: "  ", want: domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.ledger.Apply(context.Background(), id, tt.counter, decimal.RequireFromString(tt.amount), tt.reason, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Trailing zeros are still two decimals.
	if _, _, err := env.ledger.Apply(context.Background(), id, domain.CounterWithdrawable, decimal.RequireFromString("2.500"), "refund", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerApply_ReferenceIsIdempotent(t *testing.T) {
	env := newTestEnv()
	id := env.store.addUser(1, 0)
	ref := "order:9001"

	first, applied, err := env.ledger.Apply(context.Background(), id, domain.CounterWithdrawable, decimal.RequireFromString("12.30"), "cashback", &ref)
	if err != nil || !applied {
		t.Fatalf("expected first apply to succeed, got applied=%v err=%v", applied, err)
	}
	second, applied, err := env.ledger.Apply(context.Background(), id, domain.CounterWithdrawable, decimal.RequireFromString("12.30"), "cashback", &ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied || second.ID != first.ID {
		t.Fatalf("expected the original entry back, got applied=%v id=%d", applied, second.ID)
	}
	if !env.store.users[id].Withdrawable.Equal(decimal.RequireFromString("12.30")) {
		t.Fatalf("expected a single credit, got %s", env.store.users[id].Withdrawable)
	}

	entries, total, err := env.ledger.Entries(context.Background(), id, "", 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", total)
	}
}
