package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TeamMember is a descendant of a root user found by team aggregation.
type TeamMember struct {
	UserID int64 `json:"user_id"`
	Layer  int   `json:"layer"`
	Tier   int   `json:"tier"`
}

// TeamSnapshot is the result of one bounded-depth aggregation. It is derived
// data: consumers must tolerate it being stale when served from a cache.
type TeamSnapshot struct {
	RootID         int64        `json:"root_id"`
	MaxDepth       int          `json:"max_depth"`
	MaxTier        int          `json:"max_tier"`
	Total          int          `json:"total"`
	Members        []TeamMember `json:"members"`
	TierBreakdown  map[int]int  `json:"tier_breakdown"`
	LayerBreakdown map[int]int  `json:"layer_breakdown"`
	DirectMaxTier  int          `json:"direct_max_tier_count"`
	TeamMaxTier    int          `json:"team_max_tier_count"`
}

// DepthLimit is the deepest layer of a team any traversal may reach.
const DepthLimit = 6

// IncentiveRules are the thresholds and rates that drive promotion and
// dividend settlement.
type IncentiveRules struct {
	MaxTier         int
	MaxDepth        int
	DirectThreshold int
	TeamThreshold   int
	DividendRate    decimal.Decimal
	MinWeight       int
	PeriodDays      int
}

// DefaultIncentiveRules returns the production thresholds.
func DefaultIncentiveRules() IncentiveRules {
	return IncentiveRules{
		MaxTier:         6,
		MaxDepth:        DepthLimit,
		DirectThreshold: 3,
		TeamThreshold:   10,
		DividendRate:    decimal.RequireFromString("0.02"),
		MinWeight:       1,
		PeriodDays:      7,
	}
}

// Validate checks that the rules are internally consistent.
func (r IncentiveRules) Validate() error {
	switch {
	case r.MaxTier < 1:
		return fmt.Errorf("max tier must be positive, got %d", r.MaxTier)
	case r.MaxDepth < 1 || r.MaxDepth > DepthLimit:
		return fmt.Errorf("max depth must be within [1, %d], got %d", DepthLimit, r.MaxDepth)
	case r.DirectThreshold < 0 || r.TeamThreshold < 0:
		return fmt.Errorf("promotion thresholds must not be negative")
	case r.DividendRate.IsNegative() || r.DividendRate.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("dividend rate must be within [0, 1], got %s", r.DividendRate)
	case r.MinWeight < 1:
		return fmt.Errorf("minimum weight must be at least 1, got %d", r.MinWeight)
	case r.PeriodDays < 1:
		return fmt.Errorf("settlement period must be at least one day, got %d", r.PeriodDays)
	}
	return nil
}
