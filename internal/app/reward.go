package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

// RewardService records the per-order rewards an upline earns from its team
// and lists them by beneficiary or by order.
type RewardService struct {
	rewards RewardRepository
	graph   GraphRepository
	clock   Clock
	rules   domain.IncentiveRules
	logger  *slog.Logger
}

// NewRewardService creates a new RewardService.
func NewRewardService(rewards RewardRepository, graph GraphRepository, clock Clock, rules domain.IncentiveRules, logger *slog.Logger) *RewardService {
	return &RewardService{rewards: rewards, graph: graph, clock: clock, rules: rules, logger: logger}
}

// Record credits fromUserID's purchase to userID. userID must be exactly layer
// hops above fromUserID in the referral graph.
func (s *RewardService) Record(ctx context.Context, userID, fromUserID int64, layer int, amount decimal.Decimal, orderID *int64) (*domain.TeamReward, error) {
	if layer < 1 || layer > s.rules.MaxDepth {
		return nil, fmt.Errorf("%w: layer must be within [1, %d], got %d", domain.ErrInvalidDepth, s.rules.MaxDepth, layer)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("%w: reward must be positive with at most two decimals, got %s", domain.ErrInvalidAmount, amount)
	}
	if orderID != nil && *orderID <= 0 {
		return nil, fmt.Errorf("%w: order id must be positive", domain.ErrInvalidAmount)
	}
	if userID == fromUserID {
		return nil, domain.ErrSelfReference
	}

	if _, err := s.graph.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.graph.GetUser(ctx, fromUserID); err != nil {
		return nil, err
	}
	ancestors, err := ancestorIDs(ctx, s.graph, fromUserID, layer)
	if err != nil {
		return nil, err
	}
	if len(ancestors) < layer || ancestors[layer-1] != userID {
		return nil, fmt.Errorf("%w: user %d, member %d, layer %d", domain.ErrNotInTeam, userID, fromUserID, layer)
	}

	reward, err := s.rewards.RecordTeamReward(ctx, domain.TeamReward{
		UserID:     userID,
		FromUserID: fromUserID,
		OrderID:    orderID,
		Layer:      layer,
		Amount:     amount,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("team reward recorded",
		"user_id", userID,
		"from_user_id", fromUserID,
		"layer", layer,
		"amount", amount.String(),
	)
	return reward, nil
}

// ListByUser pages through the rewards userID received, newest first.
func (s *RewardService) ListByUser(ctx context.Context, userID int64, page, size int) ([]domain.TeamReward, int, error) {
	if _, err := s.graph.GetUser(ctx, userID); err != nil {
		return nil, 0, err
	}
	return s.rewards.ListTeamRewardsByUser(ctx, userID, page, size)
}

// ListByOrder returns the rewards an order produced, ordered by layer.
func (s *RewardService) ListByOrder(ctx context.Context, orderID int64) ([]domain.TeamReward, error) {
	if orderID <= 0 {
		return nil, domain.ErrNotFound
	}
	return s.rewards.ListTeamRewardsByOrder(ctx, orderID)
}
