package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/game/reputation"
	mw "github.com/kasuganosora/socialgov/middleware"
	"go.uber.org/zap"
)

// ReputationHandler serves a player's faction standings.
type ReputationHandler struct {
	engine *reputation.Engine
	logger *zap.Logger
}

// NewReputationHandler creates a ReputationHandler.
func NewReputationHandler(engine *reputation.Engine, logger *zap.Logger) *ReputationHandler {
	return &ReputationHandler{engine: engine, logger: logger}
}

// Catalog handles GET /api/reputation/catalog.
func (h *ReputationHandler) Catalog(c *gin.Context) {
	cat := h.engine.Catalog()
	c.JSON(http.StatusOK, gin.H{
		"factions": cat.Factions(),
		"actions":  cat.Actions(),
		"tiers":    reputation.Tiers(),
	})
}

// Summary handles GET /api/reputation.
func (h *ReputationHandler) Summary(c *gin.Context) {
	standings, err := h.engine.Summary(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"standings": standings})
}

// Standing handles GET /api/reputation/factions/:faction.
func (h *ReputationHandler) Standing(c *gin.Context) {
	fs, err := h.engine.Standing(c.Request.Context(), mw.GetPlayerID(c), c.Param("faction"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, fs)
}

// CanInteract handles GET /api/reputation/factions/:faction/can-interact?kind=TRADE.
func (h *ReputationHandler) CanInteract(c *gin.Context) {
	kind := c.Query("kind")
	if kind == "" {
		badRequest(c, "kind is required")
		return
	}
	ok, err := h.engine.CanInteract(c.Request.Context(), mw.GetPlayerID(c), c.Param("faction"), kind)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faction": c.Param("faction"), "kind": kind, "allowed": ok})
}

// History handles GET /api/reputation/history?page=1&size=20.
func (h *ReputationHandler) History(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)
	events, total, err := h.engine.History(c.Request.Context(), mw.GetPlayerID(c), page, size)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total, "page": page})
}

// Consequences handles GET /api/reputation/consequences?limit=50.
func (h *ReputationHandler) Consequences(c *gin.Context) {
	rows, err := h.engine.Consequences(c.Request.Context(), mw.GetPlayerID(c), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consequences": rows})
}

type applyActionRequest struct {
	PlayerID   int64                    `json:"player_id" binding:"required,min=1"`
	FactionID  string                   `json:"faction_id" binding:"required"`
	ActionCode string                   `json:"action_code" binding:"required"`
	Context    reputation.ActionContext `json:"context"`
}

// ApplyAction handles POST /api/admin/reputation/actions.
// Gameplay systems report reputation-affecting events through this route.
func (h *ReputationHandler) ApplyAction(c *gin.Context) {
	var req applyActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.engine.ApplyAction(c.Request.Context(), req.PlayerID, req.FactionID, req.ActionCode, req.Context)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
