package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/referral-service/internal/domain"
)

type recordRewardRequest struct {
	FromUserID int64           `json:"from_user_id"`
	OrderID    *int64          `json:"order_id"`
	Layer      int             `json:"layer"`
	Amount     decimal.Decimal `json:"reward_amount"`
}

func (h *Handler) handleRecordReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req recordRewardRequest
	if err := decodeJSON(r, &req); err != nil || req.FromUserID <= 0 {
		writeError(w, http.StatusBadRequest, "from_user_id is required")
		return
	}

	reward, err := h.Rewards.Record(r.Context(), userID, req.FromUserID, req.Layer, req.Amount, req.OrderID)
	if err != nil {
		h.writeServiceError(w, r, err, "record_reward")
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

func (h *Handler) handleListRewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	h.writeRewards(w, r, userID)
}

func (h *Handler) handleListMyRewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.writeRewards(w, r, userID)
}

func (h *Handler) writeRewards(w http.ResponseWriter, r *http.Request, userID int64) {
	page, size, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rewards, total, err := h.Rewards.ListByUser(r.Context(), userID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err, "list_rewards")
		return
	}
	if rewards == nil {
		rewards = []domain.TeamReward{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: rewards, Total: total, Page: page, Size: size})
}

func (h *Handler) handleListOrderRewards(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	rewards, err := h.Rewards.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, r, err, "list_order_rewards")
		return
	}
	if rewards == nil {
		rewards = []domain.TeamReward{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"order_id": orderID, "rewards": rewards})
}
