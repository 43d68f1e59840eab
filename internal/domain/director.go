/**
 * @description
 * Domain models for honorary directors, their dividends and settlement runs.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DirectorStatus is the state of a director row. Stored as text.
type DirectorStatus string

const (
	DirectorPending DirectorStatus = "pending"
	DirectorActive  DirectorStatus = "active"
	DirectorFrozen  DirectorStatus = "frozen"
)

// ParseDirectorStatus converts a stored or requested value into a DirectorStatus.
func ParseDirectorStatus(raw string) (DirectorStatus, error) {
	switch DirectorStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectorPending:
		return DirectorPending, nil
	case DirectorActive:
		return DirectorActive, nil
	case DirectorFrozen:
		return DirectorFrozen, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Director is a user promoted into the dividend-eligible status.
type Director struct {
	UserID        int64           `json:"user_id"`
	Mobile        string          `json:"mobile,omitempty"`
	Name          *string         `json:"name,omitempty"`
	Status        DirectorStatus  `json:"status"`
	DividendTotal decimal.Decimal `json:"dividend_total"`
	CreatedAt     time.Time       `json:"created_at"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty"`
}

// DividendRecord is the immutable provenance of one payout to one director
// for one settlement period. (UserID, PeriodStart) is unique.
type DividendRecord struct {
	UserID      int64           `json:"user_id"`
	PeriodStart time.Time       `json:"period_start"`
	Amount      decimal.Decimal `json:"amount"`
	NewSales    decimal.Decimal `json:"new_sales"`
	Weight      int             `json:"weight"`
	RunID       uuid.UUID       `json:"settlement_run_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SettlementRunStatus tracks a settlement period through its run.
type SettlementRunStatus string

const (
	SettlementRunning   SettlementRunStatus = "running"
	SettlementCompleted SettlementRunStatus = "completed"
)

// SettlementRun guards a period against double settlement.
type SettlementRun struct {
	PeriodStart time.Time           `json:"period_start"`
	RunID       uuid.UUID           `json:"run_id"`
	Status      SettlementRunStatus `json:"status"`
	NewSales    decimal.Decimal     `json:"new_sales"`
	Pool        decimal.Decimal     `json:"pool"`
	TotalPaid   decimal.Decimal     `json:"total_paid"`
	Recipients  int                 `json:"recipients"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}
