package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerCounter names a balance column that the ledger primitive mutates.
type LedgerCounter string

const (
	CounterMemberPoints   LedgerCounter = "member_points"
	CounterMerchantPoints LedgerCounter = "merchant_points"
	CounterWithdrawable   LedgerCounter = "withdrawable_balance"
)

// ParseLedgerCounter validates a counter name.
func ParseLedgerCounter(raw string) (LedgerCounter, error) {
	switch LedgerCounter(raw) {
	case CounterMemberPoints, CounterMerchantPoints, CounterWithdrawable:
		return LedgerCounter(raw), nil
	case "member":
		return CounterMemberPoints, nil
	case "merchant":
		return CounterMerchantPoints, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCounter, raw)
}

// Integral reports whether the counter only holds whole points.
func (c LedgerCounter) Integral() bool {
	return c == CounterMemberPoints || c == CounterMerchantPoints
}

// LedgerEntry is one append-only balance movement.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Counter      LedgerCounter   `json:"counter"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       string          `json:"reason"`
	Reference    *string         `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
