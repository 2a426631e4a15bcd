package rest

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/game/guild"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/game/reputation"
	"github.com/kasuganosora/socialgov/model"
	"github.com/kasuganosora/socialgov/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles operator endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	engine   *reputation.Engine
	guilds   *guild.Service
	sched    *scheduler.Scheduler
	presence *player.Presence
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	engine *reputation.Engine,
	guilds *guild.Service,
	sched *scheduler.Scheduler,
	presence *player.Presence,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, engine: engine, guilds: guilds, sched: sched, presence: presence, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_guilds":   h.guilds.Registry().Count(),
		"online_players":  h.presence.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListSchedulerTasks returns every registered ticker, cron and delayed task.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.List()})
}

// RunDecay runs one reputation decay sweep synchronously.
// POST /api/admin/decay
func (h *AdminHandler) RunDecay(c *gin.Context) {
	report, err := h.engine.RunDecay(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.logger.Info("admin ran decay", zap.Int("decayed", report.Decayed), zap.Int("failed", report.Failed))
	c.JSON(http.StatusOK, report)
}

// RebuildLeaderboards recomputes every guild leaderboard from the registry.
// POST /api/admin/leaderboards/rebuild
func (h *AdminHandler) RebuildLeaderboards(c *gin.Context) {
	if err := h.guilds.RebuildLeaderboards(c.Request.Context()); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "guilds": h.guilds.Registry().Count()})
}

// GrantExperience awards guild experience from an external source.
// POST /api/admin/guilds/:id/experience
func (h *AdminHandler) GrantExperience(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		XP     int64  `json:"xp" binding:"required,min=1"`
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = "admin"
	}
	levels, err := h.guilds.AddExperience(c.Request.Context(), id, req.XP, req.Source)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": id, "levels": levels, "levels_gained": len(levels)})
}

// SetPlayerLevel overwrites a player's level in the directory.
// PUT /api/admin/players/:id/level
func (h *AdminHandler) SetPlayerLevel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Level int `json:"level" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.updatePlayer(c, id, "level", req.Level)
}

// BanPlayer bans or unbans a player. Banned players cannot log in.
// POST /api/admin/players/:id/ban
func (h *AdminHandler) BanPlayer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	h.updatePlayer(c, id, "status", status)
}

func (h *AdminHandler) updatePlayer(c *gin.Context, id int64, column string, value int) {
	result := h.db.WithContext(c.Request.Context()).Model(&model.Player{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		fail(c, h.logger, apperr.Store(result.Error, "update player"))
		return
	}
	if result.RowsAffected == 0 {
		fail(c, h.logger, apperr.NotFound("player not found"))
		return
	}
	h.logger.Info("admin updated player", zap.Int64("player_id", id), zap.String("column", column), zap.Int("value", value))
	c.JSON(http.StatusOK, gin.H{"ok": true, column: value})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503 so the server cannot
// be deployed without protection.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config", "kind": apperr.KindUnavailable})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "kind": apperr.KindPermissionDenied})
			return
		}
		c.Next()
	}
}
