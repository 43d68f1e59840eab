package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

// memStore is an in-memory implementation of every repository port.
type memStore struct {
	mu sync.Mutex

	nextID    int64
	users     map[int64]*domain.User
	referrers map[int64]int64
	directors map[int64]*domain.Director
	runs      map[string]*domain.SettlementRun
	dividends []domain.DividendRecord
	ledger    []domain.LedgerEntry
	audit     []domain.AuditEntry
	rewards   []domain.TeamReward

	sales    decimal.Decimal
	payErr   map[int64]error
	codeHits int // referral codes reported as taken before success
	writes   int
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]*domain.User{},
		referrers: map[int64]int64{},
		directors: map[int64]*domain.Director{},
		runs:      map[string]*domain.SettlementRun{},
		payErr:    map[int64]error{},
	}
}

// addUser inserts a user at tier, optionally under referrerID (0 for none).
func (m *memStore) addUser(tier int, referrerID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.users[id] = &domain.User{
		ID:           id,
		Mobile:       "1380000" + strconv.FormatInt(1000+id, 10),
		ReferralCode: "C" + strconv.FormatInt(10000+id, 10),
		Tier:         tier,
		Status:       domain.UserStatusNormal,
		Withdrawable: decimal.Zero,
	}
	if referrerID != 0 {
		m.referrers[id] = referrerID
	}
	return id
}

func (m *memStore) addDirector(userID int64, status domain.DirectorStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directors[userID] = &domain.Director{UserID: userID, Status: status, DividendTotal: decimal.Zero}
}

func (m *memStore) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) GetUserByMobile(_ context.Context, mobile string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Mobile == mobile {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateUser(_ context.Context, params domain.NewUserParams, referrerID *int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeHits > 0 {
		m.codeHits--
		return nil, domain.ErrReferralCodeTaken
	}
	for _, u := range m.users {
		if u.Mobile == params.Mobile {
			return nil, domain.ErrDuplicateMobile
		}
	}
	m.nextID++
	u := &domain.User{
		ID:           m.nextID,
		Mobile:       params.Mobile,
		Name:         params.Name,
		ReferralCode: params.ReferralCode,
		Status:       domain.UserStatusNormal,
		Withdrawable: decimal.Zero,
		CreatedAt:    params.CreatedAt,
	}
	m.users[u.ID] = u
	if referrerID != nil {
		m.referrers[u.ID] = *referrerID
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) GetReferrerID(_ context.Context, userID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.referrers[userID]
	return parent, ok, nil
}

func (m *memStore) UpsertReferral(_ context.Context, userID, referrerID int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrers[userID] = referrerID
	m.writes++
	return nil
}

// ListChildren deliberately returns children in map order.
func (m *memStore) ListChildren(_ context.Context, parentIDs []int64) ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parents := map[int64]struct{}{}
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var members []domain.Member
	for child, parent := range m.referrers {
		if _, ok := parents[parent]; ok {
			u := m.users[child]
			members = append(members, domain.Member{ID: child, ReferrerID: parent, Mobile: u.Mobile, Tier: u.Tier})
		}
	}
	return members, nil
}

func (m *memStore) ListDirectReferrals(ctx context.Context, userID int64, page, size int) ([]domain.Member, int, error) {
	members, _ := m.ListChildren(ctx, []int64{userID})
	sort.Slice(members, func(i, j int) bool { return members[i].ID > members[j].ID })
	total := len(members)
	from := (page - 1) * size
	if from >= total {
		return nil, total, nil
	}
	to := min(from+size, total)
	return members[from:to], total, nil
}

func (m *memStore) SetTier(_ context.Context, userID int64, tier int, reason string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	old := u.Tier
	u.Tier = tier
	u.TierChangedAt = &at
	m.audit = append(m.audit, domain.AuditEntry{UserID: userID, OpType: domain.AuditSetTier, OldValue: strconv.Itoa(old), NewValue: strconv.Itoa(tier), Reason: reason, CreatedAt: at})
	return old, nil
}

func (m *memStore) IncrementTier(_ context.Context, userID int64, maxTier int, reason string, at time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	if u.Tier >= maxTier {
		return 0, 0, domain.ErrTierCapped
	}
	u.Tier++
	u.TierChangedAt = &at
	m.audit = append(m.audit, domain.AuditEntry{UserID: userID, OpType: domain.AuditSetTier, OldValue: strconv.Itoa(u.Tier - 1), NewValue: strconv.Itoa(u.Tier), Reason: reason, CreatedAt: at})
	return u.Tier - 1, u.Tier, nil
}

func (m *memStore) SetStatus(_ context.Context, userID int64, status domain.UserStatus, reason string, at time.Time) (domain.UserStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	old := u.Status
	u.Status = status
	m.audit = append(m.audit, domain.AuditEntry{UserID: userID, OpType: domain.AuditSetStatus, OldValue: string(old), NewValue: string(status), Reason: reason, CreatedAt: at})
	return old, nil
}

func (m *memStore) ListAuditLog(_ context.Context, userID int64, limit int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []domain.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.audit[i].UserID == userID {
			entries = append(entries, m.audit[i])
		}
	}
	return entries, nil
}

func (m *memStore) UpdateTeamCounters(_ context.Context, userID int64, directMax, teamMax int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.DirectMaxTierCount = directMax
	u.TeamMaxTierCount = teamMax
	u.CountersRefreshedAt = &at
	return nil
}

func (m *memStore) ListUserIDsAtTier(_ context.Context, tier int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, u := range m.users {
		if u.Tier == tier && u.Active() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) GetDirector(_ context.Context, userID int64) (*domain.Director, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.directors[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memStore) ActivateDirector(_ context.Context, userID int64, at time.Time) (*domain.Director, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	activated := false
	d, ok := m.directors[userID]
	switch {
	case !ok:
		d = &domain.Director{UserID: userID, Status: domain.DirectorActive, DividendTotal: decimal.Zero, CreatedAt: at, ActivatedAt: &at}
		m.directors[userID] = d
		activated = true
		m.writes++
	case d.Status == domain.DirectorPending:
		d.Status = domain.DirectorActive
		if d.ActivatedAt == nil {
			d.ActivatedAt = &at
		}
		activated = true
		m.writes++
	}
	copied := *d
	return &copied, activated, nil
}

func (m *memStore) SetDirectorStatus(_ context.Context, userID int64, status domain.DirectorStatus, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.directors[userID]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *memStore) ListActiveDirectorIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, d := range m.directors {
		if d.Status == domain.DirectorActive && m.users[id] != nil && m.users[id].Active() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) ListDirectors(_ context.Context, status domain.DirectorStatus, page, size int) ([]domain.Director, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Director
	for _, d := range m.directors {
		if status == "" || d.Status == status {
			all = append(all, *d)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	from := (page - 1) * size
	if from >= len(all) {
		return nil, len(all), nil
	}
	return all[from:min(from+size, len(all))], len(all), nil
}

func (m *memStore) SumQualifyingSales(_ context.Context, _, _ time.Time) (decimal.Decimal, error) {
	return m.sales, nil
}

func periodKey(t time.Time) string { return t.Format(time.DateOnly) }

func (m *memStore) ClaimSettlementRun(_ context.Context, run domain.SettlementRun) (*domain.SettlementRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if existing, ok := m.runs[periodKey(run.PeriodStart)]; ok {
		if existing.Status == domain.SettlementCompleted {
			return nil, domain.ErrPeriodSettled
		}
		existing.NewSales, existing.Pool, existing.StartedAt = run.NewSales, run.Pool, run.StartedAt
		copied := *existing
		return &copied, nil
	}
	run.Status = domain.SettlementRunning
	stored := run
	m.runs[periodKey(run.PeriodStart)] = &stored
	return &run, nil
}

func (m *memStore) GetSettlementRun(_ context.Context, periodStart time.Time) (*domain.SettlementRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[periodKey(periodStart)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *memStore) PayDividend(_ context.Context, record domain.DividendRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.payErr[record.UserID]; err != nil {
		return false, err
	}
	for _, existing := range m.dividends {
		if existing.UserID == record.UserID && periodKey(existing.PeriodStart) == periodKey(record.PeriodStart) {
			return false, nil
		}
	}
	m.writes++
	m.dividends = append(m.dividends, record)
	u := m.users[record.UserID]
	u.Withdrawable = u.Withdrawable.Add(record.Amount)
	ref := "dividend:" + periodKey(record.PeriodStart)
	m.ledger = append(m.ledger, domain.LedgerEntry{
		ID: int64(len(m.ledger) + 1), UserID: record.UserID, Counter: domain.CounterWithdrawable,
		Amount: record.Amount, BalanceAfter: u.Withdrawable, Reason: "director dividend", Reference: &ref,
	})
	d := m.directors[record.UserID]
	d.DividendTotal = d.DividendTotal.Add(record.Amount)
	return true, nil
}

func (m *memStore) CompleteSettlementRun(_ context.Context, periodStart, at time.Time) (*domain.SettlementRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[periodKey(periodStart)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	m.writes++
	run.Status = domain.SettlementCompleted
	run.CompletedAt = &at
	run.TotalPaid, run.Recipients = decimal.Zero, 0
	for _, d := range m.dividends {
		if periodKey(d.PeriodStart) == periodKey(periodStart) {
			run.TotalPaid = run.TotalPaid.Add(d.Amount)
			run.Recipients++
		}
	}
	copied := *run
	return &copied, nil
}

func (m *memStore) ListDividends(_ context.Context, userID int64, page, size int) ([]domain.DividendRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []domain.DividendRecord
	for _, d := range m.dividends {
		if d.UserID == userID {
			records = append(records, d)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PeriodStart.After(records[j].PeriodStart) })
	from := (page - 1) * size
	if from >= len(records) {
		return nil, len(records), nil
	}
	return records[from:min(from+size, len(records))], len(records), nil
}

func (m *memStore) ListPeriodDividends(_ context.Context, periodStart time.Time) ([]domain.DividendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []domain.DividendRecord
	for _, d := range m.dividends {
		if periodKey(d.PeriodStart) == periodKey(periodStart) {
			records = append(records, d)
		}
	}
	return records, nil
}

func (m *memStore) RecordTeamReward(_ context.Context, reward domain.TeamReward) (*domain.TeamReward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reward.OrderID != nil {
		for _, existing := range m.rewards {
			if existing.OrderID != nil && *existing.OrderID == *reward.OrderID && existing.UserID == reward.UserID {
				return nil, domain.ErrRewardRecorded
			}
		}
	}
	m.writes++
	reward.ID = int64(len(m.rewards) + 1)
	m.rewards = append(m.rewards, reward)
	return &reward, nil
}

func (m *memStore) ListTeamRewardsByUser(_ context.Context, userID int64, page, size int) ([]domain.TeamReward, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rewards []domain.TeamReward
	for i := len(m.rewards) - 1; i >= 0; i-- {
		if tr := m.rewards[i]; tr.UserID == userID {
			tr.FromMobile = m.users[tr.FromUserID].Mobile
			rewards = append(rewards, tr)
		}
	}
	from := (page - 1) * size
	if from >= len(rewards) {
		return nil, len(rewards), nil
	}
	return rewards[from:min(from+size, len(rewards))], len(rewards), nil
}

func (m *memStore) ListTeamRewardsByOrder(_ context.Context, orderID int64) ([]domain.TeamReward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rewards []domain.TeamReward
	for _, tr := range m.rewards {
		if tr.OrderID != nil && *tr.OrderID == orderID {
			tr.UserMobile = m.users[tr.UserID].Mobile
			tr.FromMobile = m.users[tr.FromUserID].Mobile
			rewards = append(rewards, tr)
		}
	}
	sort.SliceStable(rewards, func(i, j int) bool { return rewards[i].Layer < rewards[j].Layer })
	return rewards, nil
}

func (m *memStore) ApplyLedgerEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[entry.UserID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if entry.Reference != nil {
		for _, e := range m.ledger {
			if e.UserID == entry.UserID && e.Counter == entry.Counter && e.Reference != nil && *e.Reference == *entry.Reference {
				existing := e
				return &existing, false, nil
			}
		}
	}

	var balance decimal.Decimal
	switch entry.Counter {
	case domain.CounterMemberPoints:
		balance = decimal.NewFromInt(u.MemberPoints)
	case domain.CounterMerchantPoints:
		balance = decimal.NewFromInt(u.MerchantPoints)
	default:
		balance = u.Withdrawable
	}
	after := balance.Add(entry.Amount)
	if after.IsNegative() {
		return nil, false, domain.ErrInsufficientBalance
	}
	switch entry.Counter {
	case domain.CounterMemberPoints:
		u.MemberPoints = after.IntPart()
	case domain.CounterMerchantPoints:
		u.MerchantPoints = after.IntPart()
	default:
		u.Withdrawable = after
	}
	entry.ID = int64(len(m.ledger) + 1)
	entry.BalanceAfter = after
	m.ledger = append(m.ledger, entry)
	return &entry, true, nil
}

func (m *memStore) ListLedgerEntries(_ context.Context, userID int64, counter domain.LedgerCounter, page, size int) ([]domain.LedgerEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []domain.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		e := m.ledger[i]
		if e.UserID == userID && (counter == "" || e.Counter == counter) {
			entries = append(entries, e)
		}
	}
	from := (page - 1) * size
	if from >= len(entries) {
		return nil, len(entries), nil
	}
	return entries[from:min(from+size, len(entries))], len(entries), nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

type nopCache struct{ invalidated []int64 }

func (c *nopCache) Get(context.Context, int64, int) (*domain.TeamSnapshot, bool) { return nil, false }

func (c *nopCache) Set(context.Context, *domain.TeamSnapshot) {}

func (c *nopCache) Invalidate(_ context.Context, rootIDs ...int64) {
	c.invalidated = append(c.invalidated, rootIDs...)
}

type stubLocker struct{ busy bool }

func (l *stubLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.busy {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires every service over one memStore.
type testEnv struct {
	store      *memStore
	clock      *fixedClock
	publisher  *recordingPublisher
	cache      *nopCache
	locker     *stubLocker
	rules      domain.IncentiveRules
	graph      *GraphService
	team       *TeamService
	promotions *PromotionService
	dividends  *DividendService
	ledger     *LedgerService
	rewards    *RewardService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     newMemStore(),
		clock:     &fixedClock{now: time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
		cache:     &nopCache{},
		locker:    &stubLocker{},
		rules:     domain.DefaultIncentiveRules(),
	}
	logger := discardLogger()
	env.graph = NewGraphService(env.store, env.cache, env.publisher, env.clock, env.rules, logger)
	env.team = NewTeamService(env.store, env.cache, env.rules, logger)
	env.promotions = NewPromotionService(env.store, env.store, env.team, env.publisher, env.clock, env.rules, logger)
	env.dividends = NewDividendService(env.store, env.store, env.team, env.locker, env.publisher, env.clock, env.rules, time.UTC, time.Minute, logger)
	env.ledger = NewLedgerService(env.store, env.clock, logger)
	env.rewards = NewRewardService(env.store, env.store, env.clock, env.rules, logger)
	return env
}
