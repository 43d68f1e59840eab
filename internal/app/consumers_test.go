package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/transfa/referral-service/internal/domain"
)

func TestTierChangedHandler(t *testing.T) {
	env := newTestEnv()
	root, leaf := buildDirectorTeam(env.store, false)
	handler := NewTierChangedHandler(env.promotions, env.rules.MaxTier, discardLogger())

	encode := func(event domain.TierChangedEvent) []byte {
		body, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return body
	}

	t.Run("acks malformed messages", func(t *testing.T) {
		if !handler.Handle(context.Background(), []byte("{not json")) {
			t.Fatal("expected malformed message to be acked")
		}
		if !handler.Handle(context.Background(), encode(domain.TierChangedEvent{NewTier: 6})) {
			t.Fatal("expected message without user to be acked")
		}
	})

	t.Run("ignores lower tiers", func(t *testing.T) {
		if !handler.Handle(context.Background(), encode(domain.TierChangedEvent{UserID: leaf, OldTier: 3, NewTier: 4})) {
			t.Fatal("expected ack")
		}
		if len(env.store.directors) != 0 {
			t.Fatalf("expected no promotion, got %d directors", len(env.store.directors))
		}
	})

	t.Run("promotes referrers on top tier", func(t *testing.T) {
		if !handler.Handle(context.Background(), encode(domain.TierChangedEvent{UserID: leaf, OldTier: 5, NewTier: 6})) {
			t.Fatal("expected ack")
		}
		if d, ok := env.store.directors[root]; !ok || d.Status != domain.DirectorActive {
			t.Fatalf("expected user %d to be promoted", root)
		}
	})
}
