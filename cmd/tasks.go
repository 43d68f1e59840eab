package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/transfa/referral-service/internal/store"
)

var settlePeriod string

func init() {
	settleCmd.Flags().StringVar(&settlePeriod, "period", "", "period start date (YYYY-MM-DD, business timezone); defaults to the last closed period")

	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle director dividends for one weekly period",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		period := s.dividends.LastClosedPeriod(time.Now())
		if raw := strings.TrimSpace(settlePeriod); raw != "" {
			period, err = time.ParseInLocation(time.DateOnly, raw, s.cfg.Location())
			if err != nil {
				return fmt.Errorf("invalid --period %q: %w", raw, err)
			}
		}

		result, err := s.dividends.Settle(cmd.Context(), period)
		if err != nil {
			return fmt.Errorf("settle %s: %w", period.Format(time.DateOnly), err)
		}
		s.logger.Info("settlement finished",
			"run_id", result.RunID,
			"period_start", result.PeriodStart.Format(time.DateOnly),
			"new_sales", result.NewSales.StringFixed(2),
			"pool", result.Pool.StringFixed(2),
			"total_paid", result.TotalPaid.StringFixed(2),
			"recipients", result.Recipients,
			"paid", result.Paid,
			"skipped", result.Skipped,
		)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-evaluate every user for director promotion",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.promotions.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("promotion sweep: %w", err)
		}
		s.logger.Info("promotion sweep finished", "scanned", result.Scanned, "promoted", result.Promoted, "failed", result.Failed)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		return store.Migrate(cmd.Context(), s.pool, s.logger)
	},
}
