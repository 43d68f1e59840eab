/**
 * @description
 * Configuration management for the referral-service.
 * Settings are read from environment variables with defaults for cron schedules
 * and the incentive thresholds.
 */
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/transfa/referral-service/internal/domain"
)

// Config holds all configuration for the referral service.
type Config struct {
	ServerPort       string `mapstructure:"SERVER_PORT"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	InternalAPIKey   string `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	BusinessTimezone string `mapstructure:"BUSINESS_TIMEZONE"`

	SettlementJobSchedule  string        `mapstructure:"SETTLEMENT_JOB_SCHEDULE"`
	PromotionSweepSchedule string        `mapstructure:"PROMOTION_SWEEP_SCHEDULE"`
	TeamCacheTTL           time.Duration `mapstructure:"TEAM_CACHE_TTL"`
	TeamCacheSize          uint32        `mapstructure:"TEAM_CACHE_SIZE"`
	SettlementLockTTL      time.Duration `mapstructure:"SETTLEMENT_LOCK_TTL"`

	MaxTier                 int    `mapstructure:"MAX_TIER"`
	MaxDepth                int    `mapstructure:"MAX_DEPTH"`
	DirectorDirectThreshold int    `mapstructure:"DIRECTOR_DIRECT_THRESHOLD"`
	DirectorTeamThreshold   int    `mapstructure:"DIRECTOR_TEAM_THRESHOLD"`
	DividendRate            string `mapstructure:"DIVIDEND_RATE"`
	DividendMinWeight       int    `mapstructure:"DIVIDEND_MIN_WEIGHT"`
	SettlementPeriodDays    int    `mapstructure:"SETTLEMENT_PERIOD_DAYS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	defaults := domain.DefaultIncentiveRules()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BUSINESS_TIMEZONE", "Asia/Shanghai")
	viper.SetDefault("SETTLEMENT_JOB_SCHEDULE", "0 3 * * 1")  // At 03:00 on Monday.
	viper.SetDefault("PROMOTION_SWEEP_SCHEDULE", "0 * * * *") // Hourly.
	viper.SetDefault("TEAM_CACHE_TTL", "5m")
	viper.SetDefault("TEAM_CACHE_SIZE", 10000)
	viper.SetDefault("SETTLEMENT_LOCK_TTL", "30m")
	viper.SetDefault("MAX_TIER", defaults.MaxTier)
	viper.SetDefault("MAX_DEPTH", defaults.MaxDepth)
	viper.SetDefault("DIRECTOR_DIRECT_THRESHOLD", defaults.DirectThreshold)
	viper.SetDefault("DIRECTOR_TEAM_THRESHOLD", defaults.TeamThreshold)
	viper.SetDefault("DIVIDEND_RATE", defaults.DividendRate.String())
	viper.SetDefault("DIVIDEND_MIN_WEIGHT", defaults.MinWeight)
	viper.SetDefault("SETTLEMENT_PERIOD_DAYS", defaults.PeriodDays)
	viper.AutomaticEnv()

	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "RABBITMQ_URL", "REDIS_URL", "INTERNAL_API_KEY",
		"JWT_SECRET", "BUSINESS_TIMEZONE", "SETTLEMENT_JOB_SCHEDULE", "PROMOTION_SWEEP_SCHEDULE",
		"TEAM_CACHE_TTL", "TEAM_CACHE_SIZE", "SETTLEMENT_LOCK_TTL", "MAX_TIER", "MAX_DEPTH",
		"DIRECTOR_DIRECT_THRESHOLD", "DIRECTOR_TEAM_THRESHOLD", "DIVIDEND_RATE",
		"DIVIDEND_MIN_WEIGHT", "SETTLEMENT_PERIOD_DAYS",
	} {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if _, err := config.Rules(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Rules builds the incentive thresholds from the loaded values.
func (c Config) Rules() (domain.IncentiveRules, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DividendRate))
	if err != nil {
		return domain.IncentiveRules{}, fmt.Errorf("invalid DIVIDEND_RATE %q: %w", c.DividendRate, err)
	}

	rules := domain.IncentiveRules{
		MaxTier:         c.MaxTier,
		MaxDepth:        c.MaxDepth,
		DirectThreshold: c.DirectorDirectThreshold,
		TeamThreshold:   c.DirectorTeamThreshold,
		DividendRate:    rate,
		MinWeight:       c.DividendMinWeight,
		PeriodDays:      c.SettlementPeriodDays,
	}
	if err := rules.Validate(); err != nil {
		return domain.IncentiveRules{}, err
	}
	return rules, nil
}

// Location resolves the business timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
