// Package sse streams player notifications to browsers over server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/player"
	mw "github.com/kasuganosora/socialgov/middleware"
	"go.uber.org/zap"
)

const announceChannel = "announce"

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	sec       config.SecurityConfig
	presence  *player.Presence
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, presence *player.Presence, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, presence: presence, keepalive: 30 * time.Second, logger: logger}
}

func unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": msg, "kind": apperr.KindPermissionDenied})
}

// ServeSSE handles GET /sse?token=<jwt>. The token may also be sent as a
// Bearer header. The stream carries the player's notifications, with the
// notification kind as the event name, and server announcements.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = mw.BearerToken(c)
	}
	if tokenStr == "" {
		unauthorized(c, "missing token")
		return
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		unauthorized(c, "invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		unauthorized(c, "session expired")
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, player.Channel(claims.PlayerID), announceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("player_id", claims.PlayerID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscribe failed", "kind": apperr.KindUnavailable})
		return
	}
	defer unsub()

	release := h.presence.Connect(claims.PlayerID)
	defer release()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"player_id\":%d}\n\n", claims.PlayerID)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventName(msg), msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func eventName(msg *cache.Message) string {
	if msg.Channel == announceChannel {
		return "announce"
	}
	var n player.Notification
	if json.Unmarshal([]byte(msg.Payload), &n) == nil && n.Kind != "" {
		return n.Kind
	}
	return "notify"
}

// Announce publishes an announcement to every connected stream.
func (h *Handler) Announce(ctx context.Context, message string) error {
	data, err := json.Marshal(gin.H{"message": message, "sent_at": time.Now().UTC()})
	if err != nil {
		return err
	}
	return h.pubsub.Publish(ctx, announceChannel, string(data))
}
