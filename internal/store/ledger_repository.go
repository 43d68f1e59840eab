/**
 * @description
 * Ledger primitive: a balance column mutation plus its append-only entry row,
 * always written in the same transaction.
 */
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

func counterColumn(counter domain.LedgerCounter) (string, error) {
	switch counter {
	case domain.CounterMemberPoints:
		return "member_points", nil
	case domain.CounterMerchantPoints:
		return "merchant_points", nil
	case domain.CounterWithdrawable:
		return "withdrawable_balance", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidCounter, counter)
}

// ApplyLedgerEntry mutates one counter and records the movement. A repeated
// (user, counter, reference) is a no-op that returns the original entry with
// applied=false.
func (r *PostgresRepository) ApplyLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	var (
		result  *domain.LedgerEntry
		applied bool
	)
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, applied, err = applyLedgerEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// applyLedgerEntry runs inside the caller's transaction.
func applyLedgerEntry(ctx context.Context, tx pgx.Tx, entry domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	column, err := counterColumn(entry.Counter)
	if err != nil {
		return nil, false, err
	}

	var balance decimal.Decimal
	// Lock the user row so concurrent movements on the same counter serialize.
	err = tx.QueryRow(ctx, `SELECT `+column+` FROM users WHERE id = $1 FOR UPDATE`, entry.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, err
	}

	after := balance.Add(entry.Amount)
	if after.IsNegative() {
		return nil, false, domain.ErrInsufficientBalance
	}

	recorded := entry
	recorded.BalanceAfter = after
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, counter, amount, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, counter, reference) WHERE reference IS NOT NULL DO NOTHING
		RETURNING id`,
		entry.UserID, string(entry.Counter), entry.Amount, after, entry.Reason, entry.Reference, entry.CreatedAt,
	).Scan(&recorded.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, lookupErr := ledgerEntryByReference(ctx, tx, entry)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if entry.Counter.Integral() {
		_, err = tx.Exec(ctx, `UPDATE users SET `+column+` = $2, updated_at = $3 WHERE id = $1`,
			entry.UserID, after.IntPart(), entry.CreatedAt)
	} else {
		_, err = tx.Exec(ctx, `UPDATE users SET `+column+` = $2, updated_at = $3 WHERE id = $1`,
			entry.UserID, after, entry.CreatedAt)
	}
	if err != nil {
		return nil, false, fmt.Errorf("update %s: %w", column, err)
	}

	return &recorded, true, nil
}

func ledgerEntryByReference(ctx context.Context, tx pgx.Tx, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	var (
		existing domain.LedgerEntry
		counter  string
	)
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, counter, amount, balance_after, reason, reference, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND counter = $2 AND reference = $3`,
		entry.UserID, string(entry.Counter), entry.Reference,
	).Scan(&existing.ID, &existing.UserID, &counter, &existing.Amount, &existing.BalanceAfter,
		&existing.Reason, &existing.Reference, &existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	existing.Counter = domain.LedgerCounter(counter)
	return &existing, nil
}

// ListLedgerEntries pages through a user's ledger, newest first. An empty
// counter lists every counter.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID int64, counter domain.LedgerCounter, page, size int) ([]domain.LedgerEntry, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE user_id = $1 AND ($2 = '' OR counter = $2)`,
		userID, string(counter),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, counter, amount, balance_after, reason, reference, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND ($2 = '' OR counter = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`,
		userID, string(counter), size, pageOffset(page, size),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e  domain.LedgerEntry
			cn string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &cn, &e.Amount, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Counter = domain.LedgerCounter(cn)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
