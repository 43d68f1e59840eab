/**
 * @description
 * Entry point for the referral-service.
 *
 * The binary exposes a cobra command tree: `serve` (default) runs the HTTP API,
 * the tier-change consumer and the cron scheduler; `settle`, `sweep` and
 * `migrate` run one-off tasks against the same configuration.
 *
 * @dependencies
 * - github.com/spf13/cobra: command tree.
 * - github.com/joho/godotenv: .env loading for local development.
 * - github.com/jackc/pgx/v5: PostgreSQL pool.
 * - github.com/redis/go-redis/v9: shared snapshot cache and settlement lock.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/transfa/referral-service/internal/app"
	"github.com/transfa/referral-service/internal/cache"
	"github.com/transfa/referral-service/internal/config"
	"github.com/transfa/referral-service/internal/domain"
	"github.com/transfa/referral-service/internal/store"
	referralrabbit "github.com/transfa/referral-service/pkg/rabbitmq"
)

var rootCmd = &cobra.Command{
	Use:           "referral-service",
	Short:         "Referral network, director promotion and dividend settlement",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// service holds every dependency shared by the commands.
type service struct {
	cfg    *config.Config
	rules  domain.IncentiveRules
	logger *slog.Logger

	pool       *pgxpool.Pool
	repository *store.PostgresRepository
	publisher  app.EventPublisher

	graph      *app.GraphService
	team       *app.TeamService
	promotions *app.PromotionService
	dividends  *app.DividendService
	ledger     *app.LedgerService
	rewards    *app.RewardService

	closers []func()
}

// bootstrap loads configuration and connects to the backing services. Redis
// and RabbitMQ are optional: without them the service falls back to an
// in-process cache and lock and a logging publisher.
func bootstrap(ctx context.Context) (*service, error) {
	logger := slog.Default()

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	pgConfig.MaxConns = 50
	pgConfig.MinConns = 5
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	logger.Info("database connection established")

	s := &service{
		cfg:        cfg,
		rules:      rules,
		logger:     logger,
		pool:       pool,
		repository: store.NewPostgresRepository(pool),
	}
	s.closers = append(s.closers, pool.Close)

	var (
		snapshots app.SnapshotCache = cache.NewMemorySnapshotCache(cfg.TeamCacheSize, cfg.TeamCacheTTL, rules.MaxDepth)
		locker    app.Locker        = cache.NewLocalLocker()
	)
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("failed to connect to Redis, using in-process cache and lock", "error", err)
		} else {
			s.closers = append(s.closers, func() { _ = client.Close() })
			snapshots = cache.NewRedisSnapshotCache(client, "referral:team", cfg.TeamCacheTTL, rules.MaxDepth, logger)
			locker = cache.NewRedisLocker(client, logger)
			logger.Info("redis connection established")
		}
	}

	s.publisher = &referralrabbit.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		if producer, err := referralrabbit.NewEventProducer(cfg.RabbitMQURL); err == nil {
			s.publisher = producer
			s.closers = append(s.closers, producer.Close)
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	clock := app.SystemClock{}
	s.graph = app.NewGraphService(s.repository, snapshots, s.publisher, clock, rules, logger)
	s.team = app.NewTeamService(s.repository, snapshots, rules, logger)
	s.promotions = app.NewPromotionService(s.repository, s.repository, s.team, s.publisher, clock, rules, logger)
	s.dividends = app.NewDividendService(s.repository, s.repository, s.team, locker, s.publisher, clock, rules, cfg.Location(), cfg.SettlementLockTTL, logger)
	s.ledger = app.NewLedgerService(s.repository, clock, logger)
	s.rewards = app.NewRewardService(s.repository, s.repository, clock, rules, logger)
	return s, nil
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Close releases connections in reverse order of acquisition.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
