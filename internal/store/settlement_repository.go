/**
 * @description
 * Settlement runs and director dividend records.
 *
 * Every payout is written in its own transaction: the dividend record, the
 * withdrawable balance credit and the director total move together, and the
 * (user_id, period_start) key makes re-runs skip recipients already paid.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

const settlementRunColumns = `
	period_start, run_id, status, new_sales, pool, total_paid, recipients, started_at, completed_at`

func scanSettlementRun(row pgx.Row) (*domain.SettlementRun, error) {
	var (
		run    domain.SettlementRun
		status string
	)
	if err := row.Scan(
		&run.PeriodStart,
		&run.RunID,
		&status,
		&run.NewSales,
		&run.Pool,
		&run.TotalPaid,
		&run.Recipients,
		&run.StartedAt,
		&run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.SettlementRunStatus(status)
	return &run, nil
}

// SumQualifyingSales totals paid and completed orders created in [from, to).
func (r *PostgresRepository) SumQualifyingSales(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM orders
		WHERE status IN ('paid', 'completed')
		  AND created_at >= $1
		  AND created_at < $2`,
		from, to,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// ClaimSettlementRun registers a run for the period. A period left running by
// an interrupted run is reclaimed under its original run id; a completed period
// returns domain.ErrPeriodSettled.
func (r *PostgresRepository) ClaimSettlementRun(ctx context.Context, run domain.SettlementRun) (*domain.SettlementRun, error) {
	claimed, err := scanSettlementRun(r.db.QueryRow(ctx, `
		INSERT INTO settlement_runs (period_start, run_id, status, new_sales, pool, started_at)
		VALUES ($1, $2, 'running', $3, $4, $5)
		ON CONFLICT (period_start) DO UPDATE
		SET new_sales = EXCLUDED.new_sales,
		    pool = EXCLUDED.pool,
		    started_at = EXCLUDED.started_at
		WHERE settlement_runs.status <> 'completed'
		RETURNING `+settlementRunColumns,
		run.PeriodStart, run.RunID, run.NewSales, run.Pool, run.StartedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPeriodSettled
		}
		return nil, err
	}
	return claimed, nil
}

// GetSettlementRun retrieves the run of a period.
func (r *PostgresRepository) GetSettlementRun(ctx context.Context, periodStart time.Time) (*domain.SettlementRun, error) {
	run, err := scanSettlementRun(r.db.QueryRow(ctx, `
		SELECT `+settlementRunColumns+` FROM settlement_runs WHERE period_start = $1`,
		periodStart,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// PayDividend records and credits one dividend. paid is false when the
// recipient already holds a record for the period.
func (r *PostgresRepository) PayDividend(ctx context.Context, record domain.DividendRecord) (bool, error) {
	var paid bool
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO director_dividends (user_id, period_start, amount, new_sales, weight, settlement_run_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, period_start) DO NOTHING
			RETURNING id`,
			record.UserID, record.PeriodStart, record.Amount, record.NewSales, record.Weight, record.RunID, record.CreatedAt,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("insert dividend record: %w", err)
		}

		reference := "dividend:" + record.PeriodStart.Format("2006-01-02")
		if _, _, err := applyLedgerEntry(ctx, tx, domain.LedgerEntry{
			UserID:    record.UserID,
			Counter:   domain.CounterWithdrawable,
			Amount:    record.Amount,
			Reason:    "director dividend",
			Reference: &reference,
			CreatedAt: record.CreatedAt,
		}); err != nil {
			return fmt.Errorf("credit dividend: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE directors
			SET dividend_total = dividend_total + $2, updated_at = $3
			WHERE user_id = $1`,
			record.UserID, record.Amount, record.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		paid = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return paid, nil
}

// CompleteSettlementRun closes a period. Totals are recomputed from the
// dividend records so resumed runs report the whole period.
func (r *PostgresRepository) CompleteSettlementRun(ctx context.Context, periodStart, at time.Time) (*domain.SettlementRun, error) {
	run, err := scanSettlementRun(r.db.QueryRow(ctx, `
		UPDATE settlement_runs
		SET status = 'completed',
		    completed_at = $2,
		    total_paid = (SELECT COALESCE(SUM(amount), 0) FROM director_dividends WHERE period_start = $1),
		    recipients = (SELECT COUNT(*) FROM director_dividends WHERE period_start = $1)
		WHERE period_start = $1
		RETURNING `+settlementRunColumns,
		periodStart, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListDividends pages through a user's dividend records, latest period first.
func (r *PostgresRepository) ListDividends(ctx context.Context, userID int64, page, size int) ([]domain.DividendRecord, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM director_dividends WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT user_id, period_start, amount, new_sales, weight, settlement_run_id, created_at
		FROM director_dividends
		WHERE user_id = $1
		ORDER BY period_start DESC
		LIMIT $2 OFFSET $3`,
		userID, size, pageOffset(page, size),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := scanDividends(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListPeriodDividends returns every dividend already recorded for a period.
func (r *PostgresRepository) ListPeriodDividends(ctx context.Context, periodStart time.Time) ([]domain.DividendRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, period_start, amount, new_sales, weight, settlement_run_id, created_at
		FROM director_dividends
		WHERE period_start = $1
		ORDER BY user_id`,
		periodStart,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDividends(rows)
}

func scanDividends(rows pgx.Rows) ([]domain.DividendRecord, error) {
	var records []domain.DividendRecord
	for rows.Next() {
		var rec domain.DividendRecord
		if err := rows.Scan(&rec.UserID, &rec.PeriodStart, &rec.Amount, &rec.NewSales, &rec.Weight, &rec.RunID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
