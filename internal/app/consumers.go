/**
 * @description
 * Event handler for tier changes published by this service or by others (for
 * example after a membership purchase). A user reaching the top tier can make
 * itself and any of its referrers eligible for promotion.
 */
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/transfa/referral-service/internal/domain"
)

// TierChangedHandler re-evaluates promotions when tiers change.
type TierChangedHandler struct {
	promotions *PromotionService
	maxTier    int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewTierChangedHandler creates a new TierChangedHandler.
func NewTierChangedHandler(promotions *PromotionService, maxTier int, logger *slog.Logger) *TierChangedHandler {
	return &TierChangedHandler{
		promotions: promotions,
		maxTier:    maxTier,
		timeout:    30 * time.Second,
		logger:     logger,
	}
}

// Handle processes one tier_changed message. It returns true when the message
// should be acknowledged.
func (h *TierChangedHandler) Handle(ctx context.Context, body []byte) bool {
	var event domain.TierChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("error unmarshaling tier_changed event", "error", err)
		return true // Malformed, retrying cannot help.
	}
	if event.UserID <= 0 {
		h.logger.Warn("tier_changed event without user id", "event_id", event.EventID)
		return true
	}
	if event.NewTier != h.maxTier {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	promoted, err := h.promotions.PromoteAncestors(ctx, event.UserID)
	if err != nil {
		h.logger.Error("promotion after tier change failed", "user_id", event.UserID, "event_id", event.EventID, "error", err)
		return false
	}
	h.logger.Info("processed tier_changed event", "user_id", event.UserID, "directors", promoted)
	return true
}
