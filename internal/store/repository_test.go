package store

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/transfa/referral-service/internal/domain"
)

func TestCounterColumn(t *testing.T) {
	tests := []struct {
		counter domain.LedgerCounter
		want    string
		wantErr bool
	}{
		{counter: domain.CounterMemberPoints, want: "member_points"},
		{counter: domain.CounterMerchantPoints, want: "merchant_points"},
		{counter: domain.CounterWithdrawable, want: "withdrawable_balance"},
		{counter: "password_hash", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.counter), func(t *testing.T) {
			got, err := counterColumn(tt.counter)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidCounter) {
					t.Fatalf("expected ErrInvalidCounter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "users_mobile_key"}
	wrapped := fmt.Errorf("insert: %w", pgErr)

	if !isUniqueViolation(wrapped, "users_mobile_key") {
		t.Fatal("expected wrapped mobile violation to match")
	}
	if isUniqueViolation(wrapped, "users_referral_code_key") {
		t.Fatal("expected constraint mismatch to be rejected")
	}
	if !isUniqueViolation(wrapped, "") {
		t.Fatal("expected empty constraint to match any unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("expected foreign key violation not to match")
	}
}

func TestPageOffset(t *testing.T) {
	if got := pageOffset(0, 20); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := pageOffset(3, 20); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}

func TestEmbeddedMigrationsHaveGooseMarkers(t *testing.T) {
	files, err := fs.Glob(embedMigrations, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, name := range files {
		body, err := fs.ReadFile(embedMigrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}
