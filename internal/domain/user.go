/**
 * @description
 * Domain models for members of the referral network.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserStatus is the lifecycle state of a user. It is stored as text and
// converted explicitly at the storage boundary.
type UserStatus string

const (
	UserStatusNormal  UserStatus = "normal"
	UserStatusFrozen  UserStatus = "frozen"
	UserStatusDeleted UserStatus = "deleted"
)

// ParseUserStatus converts a stored or requested value into a UserStatus.
func ParseUserStatus(raw string) (UserStatus, error) {
	switch UserStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case UserStatusNormal:
		return UserStatusNormal, nil
	case UserStatusFrozen:
		return UserStatusFrozen, nil
	case UserStatusDeleted:
		return UserStatusDeleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// User is a member of the referral network.
type User struct {
	ID             int64           `json:"id"`
	Mobile         string          `json:"mobile"`
	Name           *string         `json:"name,omitempty"`
	ReferralCode   string          `json:"referral_code"`
	Tier           int             `json:"tier"`
	Status         UserStatus      `json:"status"`
	MemberPoints   int64           `json:"member_points"`
	MerchantPoints int64           `json:"merchant_points"`
	Withdrawable   decimal.Decimal `json:"withdrawable_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	TierChangedAt  *time.Time      `json:"tier_changed_at,omitempty"`

	// Reporting projection refreshed by the promotion sweep.
	DirectMaxTierCount  int        `json:"direct_max_tier_count"`
	TeamMaxTierCount    int        `json:"team_max_tier_count"`
	CountersRefreshedAt *time.Time `json:"counters_refreshed_at,omitempty"`
}

// Active reports whether the user can take part in graph operations.
func (u User) Active() bool {
	return u.Status != UserStatusDeleted
}

// Member is a user seen from a referral edge: its id, referrer and tier.
type Member struct {
	ID         int64     `json:"id"`
	ReferrerID int64     `json:"referrer_id"`
	Mobile     string    `json:"mobile,omitempty"`
	Name       *string   `json:"name,omitempty"`
	Tier       int       `json:"tier"`
	CreatedAt  time.Time `json:"created_at"`
}

// TierChange describes one tier transition.
type TierChange struct {
	UserID  int64 `json:"user_id"`
	OldTier int   `json:"old_tier"`
	NewTier int   `json:"new_tier"`
}

// NewUserParams holds the data accepted at registration.
type NewUserParams struct {
	Mobile         string
	Name           *string
	ReferralCode   string
	ReferrerMobile *string
	CreatedAt      time.Time
}

// AuditEntry records an administrative change to a user.
type AuditEntry struct {
	UserID    int64     `json:"user_id"`
	Mobile    string    `json:"mobile,omitempty"`
	OpType    string    `json:"op_type"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AuditSetTier   = "SET_TIER"
	AuditSetStatus = "SET_STATUS"
)
