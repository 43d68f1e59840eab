/**
 * @description
 * Referral graph operations: registration, referrer binding, ancestor walks and
 * tier or status administration.
 *
 * @notes
 * - Deleted users count as absent for binding.
 * - Tier changes are published after the database transaction commits; a
 *   failed publish is logged and does not undo the change.
 */
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/transfa/referral-service/internal/domain"
)

const (
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 6
	referralCodeAttempts = 5
)

// GraphService maintains referral edges and user tiers.
type GraphService struct {
	repo      GraphRepository
	cache     SnapshotCache
	publisher EventPublisher
	clock     Clock
	rules     domain.IncentiveRules
	logger    *slog.Logger
}

// NewGraphService creates a new GraphService.
func NewGraphService(repo GraphRepository, cache SnapshotCache, publisher EventPublisher, clock Clock, rules domain.IncentiveRules, logger *slog.Logger) *GraphService {
	return &GraphService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		rules:     rules,
		logger:    logger,
	}
}

// GetUser returns a user by id.
func (s *GraphService) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// GetUserByMobile returns a user by mobile.
func (s *GraphService) GetUserByMobile(ctx context.Context, mobile string) (*domain.User, error) {
	return s.repo.GetUserByMobile(ctx, strings.TrimSpace(mobile))
}

func (s *GraphService) activeUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

// CreateUser registers a user. When referrerMobile is set the referrer must
// already exist.
func (s *GraphService) CreateUser(ctx context.Context, mobile string, name, referrerMobile *string) (*domain.User, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" || len(mobile) > 20 {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMobile, mobile)
	}

	var referrerID *int64
	if referrerMobile != nil && strings.TrimSpace(*referrerMobile) != "" {
		referrer, err := s.repo.GetUserByMobile(ctx, strings.TrimSpace(*referrerMobile))
		if err != nil {
			return nil, fmt.Errorf("referrer: %w", err)
		}
		if !referrer.Active() {
			return nil, fmt.Errorf("referrer: %w", domain.ErrNotFound)
		}
		referrerID = &referrer.ID
	}

	params := domain.NewUserParams{
		Mobile:         mobile,
		Name:           name,
		ReferrerMobile: referrerMobile,
		CreatedAt:      s.clock.Now(),
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, fmt.Errorf("generate referral code: %w", err)
		}
		params.ReferralCode = code

		user, err := s.repo.CreateUser(ctx, params, referrerID)
		if errors.Is(err, domain.ErrReferralCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if referrerID != nil {
			s.invalidateChain(ctx, *referrerID)
			s.logger.Info("user registered", "user_id", user.ID, "referrer_id", *referrerID)
		} else {
			s.logger.Info("user registered", "user_id", user.ID)
		}
		return user, nil
	}
	return nil, fmt.Errorf("create user: %w", domain.ErrReferralCodeTaken)
}

func generateReferralCode() (string, error) {
	size := big.NewInt(int64(len(referralCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Bind sets referrerID as the referrer of childID, replacing any previous
// referrer. Bindings that would close a cycle are rejected.
func (s *GraphService) Bind(ctx context.Context, childID, referrerID int64) error {
	if childID == referrerID {
		return domain.ErrSelfReference
	}
	if _, err := s.activeUser(ctx, childID); err != nil {
		return err
	}
	if _, err := s.activeUser(ctx, referrerID); err != nil {
		return err
	}

	// Walk up from the referrer; meeting the child means the edge closes a loop.
	visited := map[int64]struct{}{referrerID: {}}
	current := referrerID
	for {
		parent, ok, err := s.repo.GetReferrerID(ctx, current)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if parent == childID {
			return fmt.Errorf("%w: user %d is an ancestor of %d", domain.ErrSelfReference, childID, referrerID)
		}
		if _, seen := visited[parent]; seen {
			break
		}
		visited[parent] = struct{}{}
		current = parent
	}

	previous, hadPrevious, err := s.repo.GetReferrerID(ctx, childID)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertReferral(ctx, childID, referrerID, s.clock.Now()); err != nil {
		return fmt.Errorf("bind referral: %w", err)
	}

	if hadPrevious {
		s.invalidateChain(ctx, previous)
	}
	s.invalidateChain(ctx, referrerID)
	s.logger.Info("referral bound", "user_id", childID, "referrer_id", referrerID)
	return nil
}

// Ancestor returns the referrer of userID. ok is false when the user has none.
func (s *GraphService) Ancestor(ctx context.Context, userID int64) (int64, bool, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return 0, false, err
	}
	return s.repo.GetReferrerID(ctx, userID)
}

// Ancestors walks up to maxHops referrers, nearest first.
func (s *GraphService) Ancestors(ctx context.Context, userID int64, maxHops int) ([]int64, error) {
	if maxHops < 1 {
		return nil, domain.ErrInvalidDepth
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return ancestorIDs(ctx, s.repo, userID, maxHops)
}

func ancestorIDs(ctx context.Context, repo GraphRepository, userID int64, maxHops int) ([]int64, error) {
	visited := map[int64]struct{}{userID: {}}
	ancestors := make([]int64, 0, maxHops)
	current := userID
	for len(ancestors) < maxHops {
		parent, ok, err := repo.GetReferrerID(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if _, seen := visited[parent]; seen {
			break
		}
		visited[parent] = struct{}{}
		ancestors = append(ancestors, parent)
		current = parent
	}
	return ancestors, nil
}

// DirectDescendants returns every user referred directly by userID, ordered by id.
func (s *GraphService) DirectDescendants(ctx context.Context, userID int64) ([]domain.Member, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListChildren(ctx, []int64{userID})
}

// ListDirectReferrals pages through the direct referrals of userID.
func (s *GraphService) ListDirectReferrals(ctx context.Context, userID int64, page, size int) ([]domain.Member, int, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListDirectReferrals(ctx, userID, page, size)
}

// SetTier assigns a tier directly, recording the change in the audit log.
func (s *GraphService) SetTier(ctx context.Context, userID int64, tier int, reason string) (*domain.TierChange, error) {
	if tier < 0 || tier > s.rules.MaxTier {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidTier, tier)
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	oldTier, err := s.repo.SetTier(ctx, userID, tier, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	change := &domain.TierChange{UserID: userID, OldTier: oldTier, NewTier: tier}
	s.afterTierChange(ctx, change, reason)
	return change, nil
}

// UpgradeTier raises a user by one tier.
func (s *GraphService) UpgradeTier(ctx context.Context, userID int64) (*domain.TierChange, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	const reason = "one tier upgrade"
	oldTier, newTier, err := s.repo.IncrementTier(ctx, userID, s.rules.MaxTier, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	change := &domain.TierChange{UserID: userID, OldTier: oldTier, NewTier: newTier}
	s.afterTierChange(ctx, change, reason)
	return change, nil
}

func (s *GraphService) afterTierChange(ctx context.Context, change *domain.TierChange, reason string) {
	if change.OldTier == change.NewTier {
		return
	}
	s.invalidateChain(ctx, change.UserID)

	event := domain.TierChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    change.UserID,
		OldTier:   change.OldTier,
		NewTier:   change.NewTier,
		Reason:    reason,
		Timestamp: s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, domain.EventsExchange, domain.RoutingTierChanged, event); err != nil {
		s.logger.Error("failed to publish tier change", "user_id", change.UserID, "error", err)
	}
	s.logger.Info("tier changed", "user_id", change.UserID, "old_tier", change.OldTier, "new_tier", change.NewTier)
}

// SetStatus changes a user's status, recording the change in the audit log.
func (s *GraphService) SetStatus(ctx context.Context, userID int64, status domain.UserStatus, reason string) (domain.UserStatus, error) {
	parsed, err := domain.ParseUserStatus(string(status))
	if err != nil {
		return "", err
	}
	old, err := s.repo.SetStatus(ctx, userID, parsed, reason, s.clock.Now())
	if err != nil {
		return "", err
	}
	if old != parsed {
		s.invalidateChain(ctx, userID)
		s.logger.Info("user status changed", "user_id", userID, "old_status", old, "new_status", parsed)
	}
	return old, nil
}

// AuditLog returns the most recent administrative changes for a user.
func (s *GraphService) AuditLog(ctx context.Context, userID int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListAuditLog(ctx, userID, limit)
}

// invalidateChain drops cached snapshots of userID and every ancestor whose
// team can contain it.
func (s *GraphService) invalidateChain(ctx context.Context, userID int64) {
	ancestors, err := ancestorIDs(ctx, s.repo, userID, s.rules.MaxDepth)
	if err != nil {
		s.logger.Warn("failed to resolve ancestors for cache invalidation", "user_id", userID, "error", err)
	}
	s.cache.Invalidate(ctx, append([]int64{userID}, ancestors...)...)
}
