package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TeamReward credits a team member's order to an upline user at the layer the
// buyer sits in that user's team.
type TeamReward struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	FromUserID int64           `json:"from_user_id"`
	OrderID    *int64          `json:"order_id,omitempty"`
	Layer      int             `json:"layer"`
	Amount     decimal.Decimal `json:"reward_amount"`
	CreatedAt  time.Time       `json:"created_at"`

	UserMobile string  `json:"user_mobile,omitempty"`
	UserName   *string `json:"user_name,omitempty"`
	FromMobile string  `json:"from_mobile,omitempty"`
	FromName   *string `json:"from_name,omitempty"`
}
