package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/transfa/referral-service/internal/domain"
)

// RecordTeamReward stores one team reward. A second reward for the same
// (order, beneficiary) returns domain.ErrRewardRecorded.
func (r *PostgresRepository) RecordTeamReward(ctx context.Context, reward domain.TeamReward) (*domain.TeamReward, error) {
	recorded := reward
	err := r.db.QueryRow(ctx, `
		INSERT INTO team_rewards (user_id, from_user_id, order_id, layer, reward_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, user_id) WHERE order_id IS NOT NULL DO NOTHING
		RETURNING id`,
		reward.UserID, reward.FromUserID, reward.OrderID, reward.Layer, reward.Amount, reward.CreatedAt,
	).Scan(&recorded.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRewardRecorded
		}
		return nil, err
	}
	return &recorded, nil
}

// ListTeamRewardsByUser pages through the rewards a user received, newest first.
func (r *PostgresRepository) ListTeamRewardsByUser(ctx context.Context, userID int64, page, size int) ([]domain.TeamReward, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM team_rewards WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT tr.id, tr.user_id, tr.from_user_id, tr.order_id, tr.layer, tr.reward_amount, tr.created_at,
		       '' AS user_mobile, NULL::varchar AS user_name, fu.mobile, fu.name
		FROM team_rewards tr
		JOIN users fu ON fu.id = tr.from_user_id
		WHERE tr.user_id = $1
		ORDER BY tr.created_at DESC, tr.id DESC
		LIMIT $2 OFFSET $3`,
		userID, size, pageOffset(page, size),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	rewards, err := scanTeamRewards(rows)
	if err != nil {
		return nil, 0, err
	}
	return rewards, total, nil
}

// ListTeamRewardsByOrder returns every reward paid out for an order, by layer.
func (r *PostgresRepository) ListTeamRewardsByOrder(ctx context.Context, orderID int64) ([]domain.TeamReward, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tr.id, tr.user_id, tr.from_user_id, tr.order_id, tr.layer, tr.reward_amount, tr.created_at,
		       u.mobile, u.name, fu.mobile, fu.name
		FROM team_rewards tr
		JOIN users u ON u.id = tr.user_id
		JOIN users fu ON fu.id = tr.from_user_id
		WHERE tr.order_id = $1
		ORDER BY tr.layer, tr.id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTeamRewards(rows)
}

func scanTeamRewards(rows pgx.Rows) ([]domain.TeamReward, error) {
	var rewards []domain.TeamReward
	for rows.Next() {
		var tr domain.TeamReward
		if err := rows.Scan(
			&tr.ID,
			&tr.UserID,
			&tr.FromUserID,
			&tr.OrderID,
			&tr.Layer,
			&tr.Amount,
			&tr.CreatedAt,
			&tr.UserMobile,
			&tr.UserName,
			&tr.FromMobile,
			&tr.FromName,
		); err != nil {
			return nil, err
		}
		rewards = append(rewards, tr)
	}
	return rewards, rows.Err()
}
