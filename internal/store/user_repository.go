/**
 * @description
 * Users and the referral edges between them.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/transfa/referral-service/internal/domain"
)

const userColumns = `
	id, mobile, name, referral_code, tier, status, member_points, merchant_points,
	withdrawable_balance, created_at, tier_changed_at, direct_max_tier_count,
	team_max_tier_count, counters_refreshed_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user   domain.User
		status string
	)
	if err := row.Scan(
		&user.ID,
		&user.Mobile,
		&user.Name,
		&user.ReferralCode,
		&user.Tier,
		&status,
		&user.MemberPoints,
		&user.MerchantPoints,
		&user.Withdrawable,
		&user.CreatedAt,
		&user.TierChangedAt,
		&user.DirectMaxTierCount,
		&user.TeamMaxTierCount,
		&user.CountersRefreshedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	parsed, err := domain.ParseUserStatus(status)
	if err != nil {
		return nil, err
	}
	user.Status = parsed
	return &user, nil
}

// GetUser retrieves a user by id, including deleted users.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// GetUserByMobile retrieves a user by the mobile identity key.
func (r *PostgresRepository) GetUserByMobile(ctx context.Context, mobile string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE mobile = $1`, mobile))
}

// CreateUser inserts a user and, when referrerID is set, its referral edge in
// the same transaction.
func (r *PostgresRepository) CreateUser(ctx context.Context, params domain.NewUserParams, referrerID *int64) (*domain.User, error) {
	var user *domain.User
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		created, err := scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (mobile, name, referral_code, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING `+userColumns,
			params.Mobile, params.Name, params.ReferralCode, params.CreatedAt,
		))
		if err != nil {
			switch {
			case isUniqueViolation(err, "users_mobile_key"):
				return domain.ErrDuplicateMobile
			case isUniqueViolation(err, "users_referral_code_key"):
				return domain.ErrReferralCodeTaken
			}
			return err
		}

		if referrerID != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_referrals (user_id, referrer_id, created_at, updated_at)
				VALUES ($1, $2, $3, $3)`,
				created.ID, *referrerID, params.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert referral edge: %w", err)
			}
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetReferrerID returns the referrer of a user. ok is false for roots.
func (r *PostgresRepository) GetReferrerID(ctx context.Context, userID int64) (int64, bool, error) {
	var referrerID int64
	err := r.db.QueryRow(ctx, `SELECT referrer_id FROM user_referrals WHERE user_id = $1`, userID).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return referrerID, true, nil
}

// UpsertReferral sets the referrer of userID, overwriting any previous edge.
func (r *PostgresRepository) UpsertReferral(ctx context.Context, userID, referrerID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_referrals (user_id, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET referrer_id = EXCLUDED.referrer_id,
		    updated_at = EXCLUDED.updated_at`,
		userID, referrerID, at,
	)
	return err
}

// ListChildren returns every user whose referrer is in parentIDs, ordered by id.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentIDs []int64) ([]domain.Member, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT u.id, r.referrer_id, u.mobile, u.name, u.tier, u.created_at
		FROM user_referrals r
		JOIN users u ON u.id = r.user_id
		WHERE r.referrer_id = ANY($1)
		ORDER BY u.id`,
		parentIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

// ListDirectReferrals pages through the direct referrals of a user, newest first.
func (r *PostgresRepository) ListDirectReferrals(ctx context.Context, userID int64, page, size int) ([]domain.Member, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_referrals WHERE referrer_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT u.id, r.referrer_id, u.mobile, u.name, u.tier, u.created_at
		FROM user_referrals r
		JOIN users u ON u.id = r.user_id
		WHERE r.referrer_id = $1
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT $2 OFFSET $3`,
		userID, size, pageOffset(page, size),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	members, err := scanMembers(rows)
	if err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

func scanMembers(rows pgx.Rows) ([]domain.Member, error) {
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.ReferrerID, &m.Mobile, &m.Name, &m.Tier, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetTier writes a new tier and an audit row. It returns the previous tier.
func (r *PostgresRepository) SetTier(ctx context.Context, userID int64, tier int, reason string, at time.Time) (int, error) {
	var oldTier int
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&oldTier); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		return writeTier(ctx, tx, userID, oldTier, tier, reason, at)
	})
	return oldTier, err
}

// IncrementTier raises a user by one tier, refusing at maxTier.
func (r *PostgresRepository) IncrementTier(ctx context.Context, userID int64, maxTier int, reason string, at time.Time) (int, int, error) {
	var oldTier int
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&oldTier); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if oldTier >= maxTier {
			return domain.ErrTierCapped
		}
		return writeTier(ctx, tx, userID, oldTier, oldTier+1, reason, at)
	})
	if err != nil {
		return 0, 0, err
	}
	return oldTier, oldTier + 1, nil
}

func writeTier(ctx context.Context, tx pgx.Tx, userID int64, oldTier, newTier int, reason string, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE users SET tier = $2, tier_changed_at = $3, updated_at = $3 WHERE id = $1`,
		userID, newTier, at,
	); err != nil {
		return err
	}
	return insertAudit(ctx, tx, domain.AuditEntry{
		UserID:    userID,
		OpType:    domain.AuditSetTier,
		OldValue:  strconv.Itoa(oldTier),
		NewValue:  strconv.Itoa(newTier),
		Reason:    reason,
		CreatedAt: at,
	})
}

// SetStatus writes a new status and an audit row. It returns the previous status.
func (r *PostgresRepository) SetStatus(ctx context.Context, userID int64, status domain.UserStatus, reason string, at time.Time) (domain.UserStatus, error) {
	var old string
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT status FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&old); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`, userID, string(status), at); err != nil {
			return err
		}
		return insertAudit(ctx, tx, domain.AuditEntry{
			UserID:    userID,
			OpType:    domain.AuditSetStatus,
			OldValue:  old,
			NewValue:  string(status),
			Reason:    reason,
			CreatedAt: at,
		})
	})
	if err != nil {
		return "", err
	}
	return domain.ParseUserStatus(old)
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry domain.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (user_id, op_type, old_value, new_value, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.UserID, entry.OpType, entry.OldValue, entry.NewValue, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLog returns the audit trail of a user, newest first.
func (r *PostgresRepository) ListAuditLog(ctx context.Context, userID int64, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.user_id, u.mobile, a.op_type, COALESCE(a.old_value, ''), COALESCE(a.new_value, ''),
		       COALESCE(a.reason, ''), a.created_at
		FROM audit_log a
		JOIN users u ON u.id = a.user_id
		WHERE a.user_id = $1
		ORDER BY a.id DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.UserID, &e.Mobile, &e.OpType, &e.OldValue, &e.NewValue, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateTeamCounters stores the reporting projection of a user's team.
func (r *PostgresRepository) UpdateTeamCounters(ctx context.Context, userID int64, directMax, teamMax int, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET direct_max_tier_count = $2, team_max_tier_count = $3, counters_refreshed_at = $4
		WHERE id = $1`,
		userID, directMax, teamMax, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUserIDsAtTier returns the ids of non-deleted users at a tier.
func (r *PostgresRepository) ListUserIDsAtTier(ctx context.Context, tier int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM users WHERE tier = $1 AND status <> 'deleted' ORDER BY id`,
		tier,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
