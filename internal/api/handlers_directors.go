package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/referral-service/internal/domain"
)

type settleRequest struct {
	// PeriodStart is a YYYY-MM-DD date in the business timezone. Empty
	// settles the most recent closed period.
	PeriodStart string `json:"period_start"`
}

type setDirectorStatusRequest struct {
	Status string `json:"status"`
}

type directorResponse struct {
	UserID     int64            `json:"user_id"`
	IsDirector bool             `json:"is_director"`
	Director   *domain.Director `json:"director,omitempty"`
}

type meResponse struct {
	User       *domain.User `json:"user"`
	ReferrerID *int64       `json:"referrer_id"`
	IsDirector bool         `json:"is_director"`
}

func (h *Handler) parsePeriod(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), h.Location)
}

func (h *Handler) handleTryPromote(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	promoted, err := h.Promotions.TryPromote(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "try_promote")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "is_director": promoted})
}

func (h *Handler) handleGetDirector(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	h.writeDirector(w, r, userID)
}

// writeDirector reports director status. A user without a director row is
// not an error.
func (h *Handler) writeDirector(w http.ResponseWriter, r *http.Request, userID int64) {
	director, err := h.Promotions.GetDirector(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, directorResponse{UserID: userID})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err, "get_director")
		return
	}
	writeJSON(w, http.StatusOK, directorResponse{
		UserID:     userID,
		IsDirector: director.Status == domain.DirectorActive,
		Director:   director,
	})
}

func (h *Handler) handleListDirectors(w http.ResponseWriter, r *http.Request) {
	page, size, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := domain.DirectorStatus(r.URL.Query().Get("status"))
	directors, total, err := h.Promotions.ListDirectors(r.Context(), status, page, size)
	if err != nil {
		h.writeServiceError(w, r, err, "list_directors")
		return
	}
	if directors == nil {
		directors = []domain.Director{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: directors, Total: total, Page: page, Size: size})
}

func (h *Handler) handleSetDirectorStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req setDirectorStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Promotions.SetDirectorStatus(r.Context(), userID, domain.DirectorStatus(req.Status)); err != nil {
		h.writeServiceError(w, r, err, "set_director_status")
		return
	}
	h.writeDirector(w, r, userID)
}

func (h *Handler) handleSweepPromotions(w http.ResponseWriter, r *http.Request) {
	result, err := h.Promotions.Sweep(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "sweep_promotions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var period time.Time
	if strings.TrimSpace(req.PeriodStart) == "" {
		period = h.Dividends.LastClosedPeriod(time.Now())
	} else {
		parsed, err := h.parsePeriod(req.PeriodStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "period_start must be YYYY-MM-DD")
			return
		}
		period = parsed
	}

	result, err := h.Dividends.Settle(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, err, "settle")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetSettlementRun(w http.ResponseWriter, r *http.Request) {
	period, err := h.parsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "period must be YYYY-MM-DD")
		return
	}

	run, err := h.Dividends.GetSettlementRun(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, err, "get_settlement_run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListDividends(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	h.writeDividends(w, r, userID)
}

func (h *Handler) writeDividends(w http.ResponseWriter, r *http.Request, userID int64) {
	page, size, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := h.Dividends.DividendHistory(r.Context(), userID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err, "list_dividends")
		return
	}
	if records == nil {
		records = []domain.DividendRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: records, Total: total, Page: page, Size: size})
}

func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.Graph.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "get_me")
		return
	}
	referrerID, found, err := h.Graph.Ancestor(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "get_me")
		return
	}
	isDirector, err := h.Promotions.IsDirector(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "get_me")
		return
	}

	response := meResponse{User: user, IsDirector: isDirector}
	if found {
		response.ReferrerID = &referrerID
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleGetMyTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.writeTeam(w, r, userID)
}

func (h *Handler) handleListMyDirectReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.writeDirectReferrals(w, r, userID)
}

func (h *Handler) handleGetMyDirector(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.writeDirector(w, r, userID)
}

func (h *Handler) handleListMyDividends(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.writeDividends(w, r, userID)
}
