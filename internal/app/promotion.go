/**
 * @description
 * Honorary director promotion. Eligibility is decided from a freshly computed
 * team snapshot: the user must hold the top tier, have enough top-tier direct
 * referrals and enough top-tier members anywhere in the bounded team.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/transfa/referral-service/internal/domain"
	"github.com/transfa/referral-service/internal/metrics"
)

// SweepResult summarizes one promotion sweep.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// PromotionService promotes users into the director tier.
type PromotionService struct {
	graph     GraphRepository
	directors DirectorRepository
	team      *TeamService
	publisher EventPublisher
	clock     Clock
	rules     domain.IncentiveRules
	logger    *slog.Logger
}

// NewPromotionService creates a new PromotionService.
func NewPromotionService(graph GraphRepository, directors DirectorRepository, team *TeamService, publisher EventPublisher, clock Clock, rules domain.IncentiveRules, logger *slog.Logger) *PromotionService {
	return &PromotionService{
		graph:     graph,
		directors: directors,
		team:      team,
		publisher: publisher,
		clock:     clock,
		rules:     rules,
		logger:    logger,
	}
}

// TryPromote checks the user against the promotion thresholds and activates a
// director row when they are met. It returns true when the user is an active
// director after the call. Repeated calls are idempotent.
func (s *PromotionService) TryPromote(ctx context.Context, userID int64) (bool, error) {
	user, err := s.graph.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.Active() {
		return false, domain.ErrNotFound
	}
	if user.Tier != s.rules.MaxTier {
		return false, nil
	}

	snapshot, err := s.team.Aggregate(ctx, userID, s.rules.MaxDepth)
	if err != nil {
		return false, err
	}
	return s.promoteWithSnapshot(ctx, snapshot)
}

func (s *PromotionService) eligible(snapshot *domain.TeamSnapshot) bool {
	return snapshot.DirectMaxTier >= s.rules.DirectThreshold && snapshot.TeamMaxTier >= s.rules.TeamThreshold
}

func (s *PromotionService) promoteWithSnapshot(ctx context.Context, snapshot *domain.TeamSnapshot) (bool, error) {
	if !s.eligible(snapshot) {
		return false, nil
	}

	director, activated, err := s.directors.ActivateDirector(ctx, snapshot.RootID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("activate director: %w", err)
	}
	if director.Status != domain.DirectorActive {
		s.logger.Info("eligible user has a frozen director row", "user_id", snapshot.RootID)
		return false, nil
	}
	if !activated {
		return true, nil
	}

	metrics.PromotionsTotal.Inc()
	activatedAt := s.clock.Now()
	if director.ActivatedAt != nil {
		activatedAt = *director.ActivatedAt
	}
	event := domain.DirectorPromotedEvent{
		EventID:       uuid.NewString(),
		UserID:        snapshot.RootID,
		DirectMaxTier: snapshot.DirectMaxTier,
		TeamMaxTier:   snapshot.TeamMaxTier,
		ActivatedAt:   activatedAt,
	}
	if err := s.publisher.Publish(ctx, domain.EventsExchange, domain.RoutingDirectorPromoted, event); err != nil {
		s.logger.Error("failed to publish director promotion", "user_id", snapshot.RootID, "error", err)
	}
	s.logger.Info("user promoted to director",
		"user_id", snapshot.RootID,
		"direct_max_tier_count", snapshot.DirectMaxTier,
		"team_max_tier_count", snapshot.TeamMaxTier,
	)
	return true, nil
}

// IsDirector reports whether the user holds an active director row.
func (s *PromotionService) IsDirector(ctx context.Context, userID int64) (bool, error) {
	director, err := s.directors.GetDirector(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return director.Status == domain.DirectorActive, nil
}

// GetDirector returns the director row of a user.
func (s *PromotionService) GetDirector(ctx context.Context, userID int64) (*domain.Director, error) {
	return s.directors.GetDirector(ctx, userID)
}

// ListDirectors pages through directors. An empty status lists all of them.
func (s *PromotionService) ListDirectors(ctx context.Context, status domain.DirectorStatus, page, size int) ([]domain.Director, int, error) {
	if status != "" {
		parsed, err := domain.ParseDirectorStatus(string(status))
		if err != nil {
			return nil, 0, err
		}
		status = parsed
	}
	return s.directors.ListDirectors(ctx, status, page, size)
}

// SetDirectorStatus freezes or reactivates an existing director.
func (s *PromotionService) SetDirectorStatus(ctx context.Context, userID int64, status domain.DirectorStatus) error {
	parsed, err := domain.ParseDirectorStatus(string(status))
	if err != nil {
		return err
	}
	if err := s.directors.SetDirectorStatus(ctx, userID, parsed, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("director status changed", "user_id", userID, "status", parsed)
	return nil
}

// PromoteAncestors re-evaluates the user and up to MaxDepth of its referrers,
// whose teams all contain the user. It returns the ids that are active
// directors afterwards.
func (s *PromotionService) PromoteAncestors(ctx context.Context, userID int64) ([]int64, error) {
	ancestors, err := ancestorIDs(ctx, s.graph, userID, s.rules.MaxDepth)
	if err != nil {
		return nil, err
	}

	var (
		promoted []int64
		errs     []error
	)
	for _, candidate := range append([]int64{userID}, ancestors...) {
		ok, err := s.TryPromote(ctx, candidate)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("user %d: %w", candidate, err))
			continue
		}
		if ok {
			promoted = append(promoted, candidate)
		}
	}
	return promoted, errors.Join(errs...)
}

// Sweep refreshes the persisted team counters of every top-tier user and
// promotes the ones that became eligible.
func (s *PromotionService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	ids, err := s.graph.ListUserIDsAtTier(ctx, s.rules.MaxTier)
	if err != nil {
		return result, fmt.Errorf("list top tier users: %w", err)
	}

	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		snapshot, err := s.team.Aggregate(ctx, userID, s.rules.MaxDepth)
		if err != nil {
			result.Failed++
			s.logger.Error("sweep aggregation failed", "user_id", userID, "error", err)
			continue
		}
		if err := s.graph.UpdateTeamCounters(ctx, userID, snapshot.DirectMaxTier, snapshot.TeamMaxTier, s.clock.Now()); err != nil {
			result.Failed++
			s.logger.Error("sweep counter refresh failed", "user_id", userID, "error", err)
			continue
		}

		wasDirector, err := s.IsDirector(ctx, userID)
		if err != nil {
			result.Failed++
			s.logger.Error("sweep director lookup failed", "user_id", userID, "error", err)
			continue
		}
		if wasDirector {
			continue
		}
		ok, err := s.promoteWithSnapshot(ctx, snapshot)
		if err != nil {
			result.Failed++
			s.logger.Error("sweep promotion failed", "user_id", userID, "error", err)
			continue
		}
		if ok {
			result.Promoted++
		}
	}

	s.logger.Info("promotion sweep finished", "scanned", result.Scanned, "promoted", result.Promoted, "failed", result.Failed)
	return result, nil
}
