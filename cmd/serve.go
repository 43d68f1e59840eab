package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/transfa/referral-service/internal/api"
	"github.com/transfa/referral-service/internal/app"
	"github.com/transfa/referral-service/internal/domain"
	referralrabbit "github.com/transfa/referral-service/pkg/rabbitmq"
)

const (
	tierChangedQueue      = "referral_service_tier_changed"
	tierChangedRoutingKey = "*.user.tier_changed"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the tier change consumer and the scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	logger := s.logger

	if s.cfg.RabbitMQURL != "" {
		consumer, err := referralrabbit.NewConsumer(s.cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("failed to create RabbitMQ consumer, promotions rely on the sweep job", "error", err)
		} else {
			defer consumer.Close()
			handler := app.NewTierChangedHandler(s.promotions, s.rules.MaxTier, logger)
			go func() {
				err := consumer.Consume(ctx, domain.EventsExchange, tierChangedQueue, tierChangedRoutingKey, handler.Handle)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("tier change consumer stopped", "error", err)
				}
			}()
			logger.Info("tier change consumer started", "queue", tierChangedQueue)
		}
	}

	jobs := app.NewJobs(s.promotions, s.dividends, app.SystemClock{}, logger)
	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		Settlement:     s.cfg.SettlementJobSchedule,
		PromotionSweep: s.cfg.PromotionSweepSchedule,
		Location:       s.cfg.Location(),
	})
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("scheduler started")

	handler := api.NewHandler(api.Services{
		Graph:      s.graph,
		Team:       s.team,
		Promotions: s.promotions,
		Dividends:  s.dividends,
		Ledger:     s.ledger,
		Rewards:    s.rewards,
		Ping:       s.repository.Ping,
		Location:   s.cfg.Location(),
		MaxDepth:   s.rules.MaxDepth,
	}, logger)
	router := api.NewRouter(handler, s.cfg.JWTSecret, s.cfg.InternalAPIKey)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", s.cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, gracefully shutting down")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server failed", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Wait for running jobs, a settlement run may be mid-way.
	<-scheduler.Stop().Done()
	logger.Info("server stopped")
	return runErr
}
