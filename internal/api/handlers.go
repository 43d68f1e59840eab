/**
 * @description
 * HTTP handlers for the referral-service. Handlers parse the request, call the
 * referral engine and map domain errors onto HTTP status codes.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/app"
	"github.com/transfa/referral-service/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GraphAPI is the part of the graph service exposed over HTTP.
type GraphAPI interface {
	CreateUser(ctx context.Context, mobile string, name, referrerMobile *string) (*domain.User, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByMobile(ctx context.Context, mobile string) (*domain.User, error)
	Bind(ctx context.Context, childID, referrerID int64) error
	Ancestor(ctx context.Context, userID int64) (int64, bool, error)
	Ancestors(ctx context.Context, userID int64, maxHops int) ([]int64, error)
	ListDirectReferrals(ctx context.Context, userID int64, page, size int) ([]domain.Member, int, error)
	SetTier(ctx context.Context, userID int64, tier int, reason string) (*domain.TierChange, error)
	UpgradeTier(ctx context.Context, userID int64) (*domain.TierChange, error)
	SetStatus(ctx context.Context, userID int64, status domain.UserStatus, reason string) (domain.UserStatus, error)
	AuditLog(ctx context.Context, userID int64, limit int) ([]domain.AuditEntry, error)
}

// TeamAPI serves team snapshots.
type TeamAPI interface {
	Aggregate(ctx context.Context, rootID int64, maxDepth int) (*domain.TeamSnapshot, error)
	Snapshot(ctx context.Context, rootID int64, maxDepth int) (*domain.TeamSnapshot, error)
}

// PromotionAPI exposes director promotion and administration.
type PromotionAPI interface {
	TryPromote(ctx context.Context, userID int64) (bool, error)
	IsDirector(ctx context.Context, userID int64) (bool, error)
	GetDirector(ctx context.Context, userID int64) (*domain.Director, error)
	ListDirectors(ctx context.Context, status domain.DirectorStatus, page, size int) ([]domain.Director, int, error)
	SetDirectorStatus(ctx context.Context, userID int64, status domain.DirectorStatus) error
	Sweep(ctx context.Context) (app.SweepResult, error)
}

// DividendAPI exposes settlement and dividend history.
type DividendAPI interface {
	Settle(ctx context.Context, period time.Time) (*app.SettlementResult, error)
	GetSettlementRun(ctx context.Context, period time.Time) (*domain.SettlementRun, error)
	DividendHistory(ctx context.Context, userID int64, page, size int) ([]domain.DividendRecord, int, error)
	LastClosedPeriod(now time.Time) time.Time
}

// LedgerAPI exposes balance movements.
type LedgerAPI interface {
	Apply(ctx context.Context, userID int64, counter domain.LedgerCounter, amount decimal.Decimal, reason string, reference *string) (*domain.LedgerEntry, bool, error)
	Entries(ctx context.Context, userID int64, counter domain.LedgerCounter, page, size int) ([]domain.LedgerEntry, int, error)
}

// RewardAPI records and lists per-order team rewards.
type RewardAPI interface {
	Record(ctx context.Context, userID, fromUserID int64, layer int, amount decimal.Decimal, orderID *int64) (*domain.TeamReward, error)
	ListByUser(ctx context.Context, userID int64, page, size int) ([]domain.TeamReward, int, error)
	ListByOrder(ctx context.Context, orderID int64) ([]domain.TeamReward, error)
}

// Services bundles the collaborators of the HTTP layer.
type Services struct {
	Graph      GraphAPI
	Team       TeamAPI
	Promotions PromotionAPI
	Dividends  DividendAPI
	Ledger     LedgerAPI
	Rewards    RewardAPI
	// Ping checks the database for /health. Optional.
	Ping func(ctx context.Context) error
	// Location is the business timezone settlement dates are read in.
	Location *time.Location
	// MaxDepth is the default team depth.
	MaxDepth int
}

// Handler holds the services that handlers will interact with.
type Handler struct {
	Services
	logger *slog.Logger
}

// NewHandler creates a new Handler with the given services.
func NewHandler(services Services, logger *slog.Logger) *Handler {
	if services.Location == nil {
		services.Location = time.UTC
	}
	if services.MaxDepth < 1 {
		services.MaxDepth = domain.DefaultIncentiveRules().MaxDepth
	}
	return &Handler{Services: services, logger: logger}
}

type listResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Referral service is healthy"))
}

// writeServiceError maps domain errors onto status codes. Anything unknown is
// logged and reported as a 500 without details.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSelfReference),
		errors.Is(err, domain.ErrPeriodSettled),
		errors.Is(err, domain.ErrDuplicateMobile),
		errors.Is(err, domain.ErrSettlementBusy),
		errors.Is(err, domain.ErrTierCapped),
		errors.Is(err, domain.ErrReferralCodeTaken),
		errors.Is(err, domain.ErrRewardRecorded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrNotInTeam):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidDepth),
		errors.Is(err, domain.ErrInvalidPeriod),
		errors.Is(err, domain.ErrInvalidTier),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidCounter),
		errors.Is(err, domain.ErrInvalidMobile),
		errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed",
			"endpoint", endpoint,
			"request_id", r.Header.Get("X-Request-Id"),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// parsePage reads page and size query parameters, clamping size to maxPageSize.
func parsePage(r *http.Request) (int, int, error) {
	page, err := parseOptionalInt(r.URL.Query().Get("page"), 1)
	if err != nil || page < 1 {
		return 0, 0, errors.New("invalid page")
	}
	size, err := parseOptionalInt(r.URL.Query().Get("size"), defaultPageSize)
	if err != nil || size < 1 {
		return 0, 0, errors.New("invalid size")
	}
	return page, min(size, maxPageSize), nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	response, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
