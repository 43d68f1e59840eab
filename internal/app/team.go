package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/transfa/referral-service/internal/domain"
	"github.com/transfa/referral-service/internal/metrics"
)

// TeamService computes bounded-depth team snapshots.
type TeamService struct {
	repo   GraphRepository
	cache  SnapshotCache
	rules  domain.IncentiveRules
	logger *slog.Logger
}

// NewTeamService creates a new TeamService.
func NewTeamService(repo GraphRepository, cache SnapshotCache, rules domain.IncentiveRules, logger *slog.Logger) *TeamService {
	return &TeamService{repo: repo, cache: cache, rules: rules, logger: logger}
}

// Aggregate walks the referral tree below rootID layer by layer, stopping at
// maxDepth. Members are ordered by (layer, user id) and the root is excluded.
// The result is always computed from storage.
func (s *TeamService) Aggregate(ctx context.Context, rootID int64, maxDepth int) (*domain.TeamSnapshot, error) {
	if maxDepth < 1 || maxDepth > s.rules.MaxDepth {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", domain.ErrInvalidDepth, maxDepth, s.rules.MaxDepth)
	}
	root, err := s.repo.GetUser(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if !root.Active() {
		return nil, domain.ErrNotFound
	}

	started := time.Now()
	defer func() { metrics.TeamAggregationSeconds.Observe(time.Since(started).Seconds()) }()

	snapshot := &domain.TeamSnapshot{
		RootID:         rootID,
		MaxDepth:       maxDepth,
		MaxTier:        s.rules.MaxTier,
		Members:        []domain.TeamMember{},
		TierBreakdown:  map[int]int{},
		LayerBreakdown: map[int]int{},
	}

	// The visited set keeps the walk finite even if storage holds a cycle.
	visited := map[int64]struct{}{rootID: {}}
	frontier := []int64{rootID}
	for layer := 1; layer <= maxDepth && len(frontier) > 0; layer++ {
		children, err := s.repo.ListChildren(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load layer %d: %w", layer, err)
		}
		sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })

		next := make([]int64, 0, len(children))
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			next = append(next, child.ID)

			snapshot.Members = append(snapshot.Members, domain.TeamMember{UserID: child.ID, Layer: layer, Tier: child.Tier})
			snapshot.TierBreakdown[child.Tier]++
			snapshot.LayerBreakdown[layer]++
			if child.Tier == s.rules.MaxTier {
				snapshot.TeamMaxTier++
				if layer == 1 {
					snapshot.DirectMaxTier++
				}
			}
		}
		frontier = next
	}
	snapshot.Total = len(snapshot.Members)

	return snapshot, nil
}

// Snapshot serves a team snapshot for read endpoints, preferring a cached copy.
// Cached snapshots may lag behind storage by the cache TTL.
func (s *TeamService) Snapshot(ctx context.Context, rootID int64, maxDepth int) (*domain.TeamSnapshot, error) {
	if cached, ok := s.cache.Get(ctx, rootID, maxDepth); ok {
		metrics.TeamCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.TeamCacheLookups.WithLabelValues("miss").Inc()

	snapshot, err := s.Aggregate(ctx, rootID, maxDepth)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, snapshot)
	return snapshot, nil
}
