package player

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/socialgov/cache"
	"go.uber.org/zap"
)

// Notification kinds.
const (
	KindConsequence = "consequence"
	KindGuild       = "guild"
	KindDiplomacy   = "diplomacy"
	KindApplication = "application"
	KindReputation  = "reputation"
)

// Notifier is the outbound channel for consequence and event broadcasts.
type Notifier interface {
	Notify(ctx context.Context, playerID int64, message, kind string) error
}

// Notification is the JSON payload published per player.
type Notification struct {
	PlayerID int64     `json:"player_id"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// Channel returns the pubsub channel carrying notifications for playerID.
func Channel(playerID int64) string {
	return fmt.Sprintf("notify:%d", playerID)
}

// PubSubNotifier publishes notifications on cache.PubSub.
type PubSubNotifier struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPubSubNotifier creates a Notifier that publishes to ps.
func NewPubSubNotifier(ps cache.PubSub, logger *zap.Logger) *PubSubNotifier {
	return &PubSubNotifier{ps: ps, logger: logger}
}

// Notify publishes one notification.
func (n *PubSubNotifier) Notify(ctx context.Context, playerID int64, message, kind string) error {
	data, err := json.Marshal(Notification{
		PlayerID: playerID,
		Kind:     kind,
		Message:  message,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.ps.Publish(ctx, Channel(playerID), string(data)); err != nil {
		n.logger.Warn("notify publish failed",
			zap.Int64("player_id", playerID),
			zap.String("kind", kind),
			zap.Error(err))
		return err
	}
	return nil
}
