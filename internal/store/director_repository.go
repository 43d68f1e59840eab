package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/transfa/referral-service/internal/domain"
)

const directorColumns = `
	d.user_id, u.mobile, u.name, d.status, d.dividend_total, d.created_at, d.activated_at`

func scanDirector(row pgx.Row) (*domain.Director, error) {
	var (
		director domain.Director
		status   string
	)
	if err := row.Scan(
		&director.UserID,
		&director.Mobile,
		&director.Name,
		&status,
		&director.DividendTotal,
		&director.CreatedAt,
		&director.ActivatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	parsed, err := domain.ParseDirectorStatus(status)
	if err != nil {
		return nil, err
	}
	director.Status = parsed
	return &director, nil
}

// GetDirector retrieves the director row of a user.
func (r *PostgresRepository) GetDirector(ctx context.Context, userID int64) (*domain.Director, error) {
	return scanDirector(r.db.QueryRow(ctx, `
		SELECT `+directorColumns+`
		FROM directors d
		JOIN users u ON u.id = d.user_id
		WHERE d.user_id = $1`,
		userID,
	))
}

// ActivateDirector moves a user into the active director state. Active rows keep
// their original activation time and frozen rows are left untouched. activated
// is true only when this call performed the transition.
func (r *PostgresRepository) ActivateDirector(ctx context.Context, userID int64, at time.Time) (*domain.Director, bool, error) {
	var activated bool
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM directors WHERE user_id = $1 FOR UPDATE`, userID).Scan(&status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx, `
				INSERT INTO directors (user_id, status, activated_at, created_at, updated_at)
				VALUES ($1, 'active', $2, $2, $2)`,
				userID, at,
			)
			activated = err == nil
			return err
		case err != nil:
			return err
		case status == string(domain.DirectorPending):
			_, err = tx.Exec(ctx, `
				UPDATE directors
				SET status = 'active', activated_at = COALESCE(activated_at, $2), updated_at = $2
				WHERE user_id = $1`,
				userID, at,
			)
			activated = err == nil
			return err
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	director, err := r.GetDirector(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return director, activated, nil
}

// SetDirectorStatus changes a director row's status.
func (r *PostgresRepository) SetDirectorStatus(ctx context.Context, userID int64, status domain.DirectorStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE directors SET status = $2, updated_at = $3 WHERE user_id = $1`,
		userID, string(status), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveDirectorIDs returns the ids of active directors in ascending order.
func (r *PostgresRepository) ListActiveDirectorIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.user_id
		FROM directors d
		JOIN users u ON u.id = d.user_id
		WHERE d.status = 'active' AND u.status <> 'deleted'
		ORDER BY d.user_id`)
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

// ListDirectors pages through directors, optionally filtered by status.
func (r *PostgresRepository) ListDirectors(ctx context.Context, status domain.DirectorStatus, page, size int) ([]domain.Director, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM directors WHERE ($1 = '' OR status = $1)`,
		string(status),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+directorColumns+`
		FROM directors d
		JOIN users u ON u.id = d.user_id
		WHERE ($1 = '' OR d.status = $1)
		ORDER BY d.activated_at DESC NULLS LAST, d.user_id
		LIMIT $2 OFFSET $3`,
		string(status), size, pageOffset(page, size),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var directors []domain.Director
	for rows.Next() {
		director, err := scanDirector(rows)
		if err != nil {
			return nil, 0, err
		}
		directors = append(directors, *director)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return directors, total, nil
}
