package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

type createUserRequest struct {
	Mobile         string  `json:"mobile"`
	Name           *string `json:"name"`
	ReferrerMobile *string `json:"referrer_mobile"`
}

type bindReferrerRequest struct {
	ReferrerID int64 `json:"referrer_id"`
}

type setTierRequest struct {
	Tier   *int   `json:"tier"`
	Reason string `json:"reason"`
}

type setStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type applyLedgerRequest struct {
	Counter   string          `json:"counter"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference *string         `json:"reference"`
}

type referrerResponse struct {
	UserID     int64  `json:"user_id"`
	ReferrerID *int64 `json:"referrer_id"`
}

type ledgerResponse struct {
	Entry   *domain.LedgerEntry `json:"entry"`
	Applied bool                `json:"applied"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.Graph.CreateUser(r.Context(), req.Mobile, req.Name, req.ReferrerMobile)
	if err != nil {
		h.writeServiceError(w, r, err, "create_user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.Graph.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "get_user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleGetUserByMobile(w http.ResponseWriter, r *http.Request) {
	mobile := strings.TrimSpace(chi.URLParam(r, "mobile"))
	if mobile == "" {
		writeError(w, http.StatusBadRequest, "Mobile is required")
		return
	}

	user, err := h.Graph.GetUserByMobile(r.Context(), mobile)
	if err != nil {
		h.writeServiceError(w, r, err, "get_user_by_mobile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleGetReferrer(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	referrerID, found, err := h.Graph.Ancestor(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "get_referrer")
		return
	}
	response := referrerResponse{UserID: userID}
	if found {
		response.ReferrerID = &referrerID
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleBindReferrer(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req bindReferrerRequest
	if err := decodeJSON(r, &req); err != nil || req.ReferrerID <= 0 {
		writeError(w, http.StatusBadRequest, "referrer_id is required")
		return
	}

	if err := h.Graph.Bind(r.Context(), userID, req.ReferrerID); err != nil {
		h.writeServiceError(w, r, err, "bind_referrer")
		return
	}
	writeJSON(w, http.StatusOK, referrerResponse{UserID: userID, ReferrerID: &req.ReferrerID})
}

func (h *Handler) handleListAncestors(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	hops, err := parseOptionalInt(r.URL.Query().Get("hops"), h.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hops")
		return
	}

	ancestors, err := h.Graph.Ancestors(r.Context(), userID, hops)
	if err != nil {
		h.writeServiceError(w, r, err, "list_ancestors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "ancestors": ancestors})
}

func (h *Handler) handleListDirectReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	h.writeDirectReferrals(w, r, userID)
}

func (h *Handler) writeDirectReferrals(w http.ResponseWriter, r *http.Request, userID int64) {
	page, size, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	members, total, err := h.Graph.ListDirectReferrals(r.Context(), userID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err, "list_direct_referrals")
		return
	}
	if members == nil {
		members = []domain.Member{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: members, Total: total, Page: page, Size: size})
}

func (h *Handler) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	h.writeTeam(w, r, userID)
}

// writeTeam serves a cached snapshot unless fresh=true is requested.
func (h *Handler) writeTeam(w http.ResponseWriter, r *http.Request, userID int64) {
	depth, err := parseOptionalInt(r.URL.Query().Get("depth"), h.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid depth")
		return
	}

	var snapshot *domain.TeamSnapshot
	if r.URL.Query().Get("fresh") == "true" {
		snapshot, err = h.Team.Aggregate(r.Context(), userID, depth)
	} else {
		snapshot, err = h.Team.Snapshot(r.Context(), userID, depth)
	}
	if err != nil {
		h.writeServiceError(w, r, err, "get_team")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleSetTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req setTierRequest
	if err := decodeJSON(r, &req); err != nil || req.Tier == nil {
		writeError(w, http.StatusBadRequest, "tier is required")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual adjustment"
	}

	change, err := h.Graph.SetTier(r.Context(), userID, *req.Tier, reason)
	if err != nil {
		h.writeServiceError(w, r, err, "set_tier")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) handleUpgradeTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	change, err := h.Graph.UpgradeTier(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "upgrade_tier")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	old, err := h.Graph.SetStatus(r.Context(), userID, domain.UserStatus(req.Status), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeServiceError(w, r, err, "set_status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"old_status": old,
		"new_status": strings.ToLower(strings.TrimSpace(req.Status)),
	})
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	entries, err := h.Graph.AuditLog(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err, "list_audit")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleApplyLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req applyLedgerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, applied, err := h.Ledger.Apply(r.Context(), userID, domain.LedgerCounter(req.Counter), req.Amount, req.Reason, req.Reference)
	if err != nil {
		h.writeServiceError(w, r, err, "apply_ledger")
		return
	}
	status := http.StatusCreated
	if !applied {
		status = http.StatusOK
	}
	writeJSON(w, status, ledgerResponse{Entry: entry, Applied: applied})
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	page, size, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, total, err := h.Ledger.Entries(r.Context(), userID, domain.LedgerCounter(r.URL.Query().Get("counter")), page, size)
	if err != nil {
		h.writeServiceError(w, r, err, "list_ledger")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: entries, Total: total, Page: page, Size: size})
}
