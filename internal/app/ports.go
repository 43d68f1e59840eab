/**
 * @description
 * Interfaces consumed by the referral engine. The PostgreSQL repository, the
 * RabbitMQ publisher and the Redis cache implement them in production; tests
 * substitute in-memory fakes.
 */
package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

// GraphRepository stores users, tiers and referral edges.
type GraphRepository interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByMobile(ctx context.Context, mobile string) (*domain.User, error)
	CreateUser(ctx context.Context, params domain.NewUserParams, referrerID *int64) (*domain.User, error)
	GetReferrerID(ctx context.Context, userID int64) (int64, bool, error)
	UpsertReferral(ctx context.Context, userID, referrerID int64, at time.Time) error
	ListChildren(ctx context.Context, parentIDs []int64) ([]domain.Member, error)
	ListDirectReferrals(ctx context.Context, userID int64, page, size int) ([]domain.Member, int, error)
	SetTier(ctx context.Context, userID int64, tier int, reason string, at time.Time) (int, error)
	IncrementTier(ctx context.Context, userID int64, maxTier int, reason string, at time.Time) (int, int, error)
	SetStatus(ctx context.Context, userID int64, status domain.UserStatus, reason string, at time.Time) (domain.UserStatus, error)
	ListAuditLog(ctx context.Context, userID int64, limit int) ([]domain.AuditEntry, error)
	UpdateTeamCounters(ctx context.Context, userID int64, directMax, teamMax int, at time.Time) error
	ListUserIDsAtTier(ctx context.Context, tier int) ([]int64, error)
}

// DirectorRepository stores director rows.
type DirectorRepository interface {
	GetDirector(ctx context.Context, userID int64) (*domain.Director, error)
	ActivateDirector(ctx context.Context, userID int64, at time.Time) (*domain.Director, bool, error)
	SetDirectorStatus(ctx context.Context, userID int64, status domain.DirectorStatus, at time.Time) error
	ListActiveDirectorIDs(ctx context.Context) ([]int64, error)
	ListDirectors(ctx context.Context, status domain.DirectorStatus, page, size int) ([]domain.Director, int, error)
}

// SettlementRepository stores settlement runs and dividend records.
type SettlementRepository interface {
	SumQualifyingSales(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	ClaimSettlementRun(ctx context.Context, run domain.SettlementRun) (*domain.SettlementRun, error)
	GetSettlementRun(ctx context.Context, periodStart time.Time) (*domain.SettlementRun, error)
	PayDividend(ctx context.Context, record domain.DividendRecord) (bool, error)
	CompleteSettlementRun(ctx context.Context, periodStart, at time.Time) (*domain.SettlementRun, error)
	ListDividends(ctx context.Context, userID int64, page, size int) ([]domain.DividendRecord, int, error)
	ListPeriodDividends(ctx context.Context, periodStart time.Time) ([]domain.DividendRecord, error)
}

// LedgerRepository applies balance movements.
type LedgerRepository interface {
	ApplyLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, bool, error)
	ListLedgerEntries(ctx context.Context, userID int64, counter domain.LedgerCounter, page, size int) ([]domain.LedgerEntry, int, error)
}

// RewardRepository stores per-order team rewards.
type RewardRepository interface {
	RecordTeamReward(ctx context.Context, reward domain.TeamReward) (*domain.TeamReward, error)
	ListTeamRewardsByUser(ctx context.Context, userID int64, page, size int) ([]domain.TeamReward, int, error)
	ListTeamRewardsByOrder(ctx context.Context, orderID int64) ([]domain.TeamReward, error)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// SnapshotCache holds recently computed team snapshots for read endpoints.
type SnapshotCache interface {
	Get(ctx context.Context, rootID int64, depth int) (*domain.TeamSnapshot, bool)
	Set(ctx context.Context, snapshot *domain.TeamSnapshot)
	Invalidate(ctx context.Context, rootIDs ...int64)
}

// Locker provides a mutual-exclusion lease on a named key.
type Locker interface {
	// Acquire returns a release func, or ok=false when the key is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Clock abstracts the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
