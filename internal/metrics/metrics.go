package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TeamAggregationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "referral_team_aggregation_seconds",
			Help:    "Duration of bounded-depth team aggregations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	TeamCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_team_cache_lookups_total",
			Help: "Team snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	PromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_director_promotions_total",
			Help: "Users newly promoted to director",
		},
	)

	DividendsPaidTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_dividends_paid_total",
			Help: "Dividend records credited",
		},
	)

	SettlementRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_settlement_runs_total",
			Help: "Settlement runs by outcome",
		},
		[]string{"outcome"},
	)

	LastSettlementPool = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "referral_last_settlement_pool",
			Help: "Dividend pool of the most recent completed settlement run",
		},
	)
)
