/**
 * @description
 * HTTP router setup for the referral-service using go-chi/chi.
 *
 * Internal routes are called by other services and the admin console and are
 * guarded by the internal API key. The /referrals/me and /directors/me routes
 * serve the signed-in user and require a bearer token.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the referral routes.
func NewRouter(h *Handler, jwtSecret string, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Post("/users", h.handleCreateUser)
		r.Get("/users/by-mobile/{mobile}", h.handleGetUserByMobile)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", h.handleGetUser)
			r.Get("/referrer", h.handleGetReferrer)
			r.Put("/referrer", h.handleBindReferrer)
			r.Get("/ancestors", h.handleListAncestors)
			r.Get("/referrals", h.handleListDirectReferrals)
			r.Get("/team", h.handleGetTeam)
			r.Put("/tier", h.handleSetTier)
			r.Post("/tier/upgrade", h.handleUpgradeTier)
			r.Put("/status", h.handleSetStatus)
			r.Get("/audit", h.handleListAudit)
			r.Post("/ledger", h.handleApplyLedger)
			r.Get("/ledger", h.handleListLedger)
			r.Post("/promotion", h.handleTryPromote)
			r.Get("/director", h.handleGetDirector)
			r.Get("/dividends", h.handleListDividends)
			r.Post("/rewards", h.handleRecordReward)
			r.Get("/rewards", h.handleListRewards)
		})

		r.Get("/orders/{orderID}/rewards", h.handleListOrderRewards)

		r.Get("/directors", h.handleListDirectors)
		r.Put("/directors/{userID}/status", h.handleSetDirectorStatus)
		r.Post("/promotions/sweep", h.handleSweepPromotions)
		r.Post("/settlements", h.handleSettle)
		r.Get("/settlements/{period}", h.handleGetSettlementRun)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))
		r.Get("/referrals/me", h.handleGetMe)
		r.Get("/referrals/me/team", h.handleGetMyTeam)
		r.Get("/referrals/me/direct", h.handleListMyDirectReferrals)
		r.Get("/referrals/me/rewards", h.handleListMyRewards)
		r.Get("/directors/me", h.handleGetMyDirector)
		r.Get("/directors/me/dividends", h.handleListMyDividends)
	})

	return r
}
