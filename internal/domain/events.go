/**
 * @description
 * Event payloads published to and consumed from the message broker.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventsExchange = "transfa.events"

	RoutingTierChanged        = "referral.user.tier_changed"
	RoutingDirectorPromoted   = "referral.director.promoted"
	RoutingDividendPaid       = "referral.dividend.paid"
	RoutingSettlementComplete = "referral.settlement.completed"
)

// TierChangedEvent is emitted whenever a user's tier moves. Other services
// may publish it too (e.g. after a membership purchase).
type TierChangedEvent struct {
	EventID   string    `json:"event_id"`
	UserID    int64     `json:"user_id"`
	OldTier   int       `json:"old_tier"`
	NewTier   int       `json:"new_tier"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DirectorPromotedEvent is emitted the first time a user becomes an active director.
type DirectorPromotedEvent struct {
	EventID       string    `json:"event_id"`
	UserID        int64     `json:"user_id"`
	DirectMaxTier int       `json:"direct_max_tier_count"`
	TeamMaxTier   int       `json:"team_max_tier_count"`
	ActivatedAt   time.Time `json:"activated_at"`
}

// DividendPaidEvent is emitted once per credited dividend record.
type DividendPaidEvent struct {
	EventID     string          `json:"event_id"`
	UserID      int64           `json:"user_id"`
	PeriodStart string          `json:"period_start"`
	Amount      decimal.Decimal `json:"amount"`
	Weight      int             `json:"weight"`
	RunID       string          `json:"settlement_run_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SettlementCompletedEvent summarizes a settlement run.
type SettlementCompletedEvent struct {
	EventID     string          `json:"event_id"`
	RunID       string          `json:"settlement_run_id"`
	PeriodStart string          `json:"period_start"`
	NewSales    decimal.Decimal `json:"new_sales"`
	Pool        decimal.Decimal `json:"pool"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Recipients  int             `json:"recipients"`
	Timestamp   time.Time       `json:"timestamp"`
}
