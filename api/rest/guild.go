package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/game/guild"
	mw "github.com/kasuganosora/socialgov/middleware"
	"go.uber.org/zap"
)

// GuildHandler exposes guild governance over REST. Routes under /api/guild
// act on the caller's own guild; routes under /api/guilds address any guild.
type GuildHandler struct {
	svc    *guild.Service
	logger *zap.Logger
}

// NewGuildHandler creates a new GuildHandler.
func NewGuildHandler(svc *guild.Service, logger *zap.Logger) *GuildHandler {
	return &GuildHandler{svc: svc, logger: logger}
}

type createGuildRequest struct {
	Name   string       `json:"name" binding:"required"`
	Tag    string       `json:"tag" binding:"required"`
	Config guild.Config `json:"config"`
}

// Create handles POST /api/guilds.
func (h *GuildHandler) Create(c *gin.Context) {
	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	g, err := h.svc.CreateGuild(c.Request.Context(), mw.GetPlayerID(c), req.Name, req.Tag, req.Config)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, g.View())
}

// Search handles GET /api/guilds?q=&type=&recruiting=&min_level=&max_level=&limit=.
func (h *GuildHandler) Search(c *gin.Context) {
	var f guild.SearchFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"guilds": h.svc.SearchGuilds(c.Request.Context(), f)})
}

// Detail handles GET /api/guilds/:id.
func (h *GuildHandler) Detail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	g, err := h.svc.GetGuild(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g.View())
}

// Members handles GET /api/guilds/:id/members.
func (h *GuildHandler) Members(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	members, err := h.svc.Members(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// Events handles GET /api/guilds/:id/events?page=&size=.
func (h *GuildHandler) Events(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	events, total, err := h.svc.Events(c.Request.Context(), mw.GetPlayerID(c), id, page, queryInt(c, "size", 0))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total, "page": page})
}

// Relation handles GET /api/guilds/:id/relations/:other.
func (h *GuildHandler) Relation(c *gin.Context) {
	a, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, ok := paramID(c, "other")
	if !ok {
		return
	}
	kind, err := h.svc.GetDiplomaticRelation(c.Request.Context(), a, b)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": a, "other_id": b, "relation": kind})
}

// Leaderboard handles GET /api/guilds/leaderboard?metric=level&limit=10.
func (h *GuildHandler) Leaderboard(c *gin.Context) {
	metric := c.DefaultQuery("metric", guild.MetricLevel)
	entries, err := h.svc.Leaderboard(c.Request.Context(), metric, queryInt(c, "limit", 10))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric": metric, "entries": entries})
}

// Perks handles GET /api/guilds/perks.
func (h *GuildHandler) Perks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"perks": guild.Perks()})
}

type applyRequest struct {
	Message string `json:"message"`
}

// Apply handles POST /api/guilds/:id/apply.
func (h *GuildHandler) Apply(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req applyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	res, err := h.svc.ApplyToGuild(c.Request.Context(), mw.GetPlayerID(c), id, req.Message)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	status := http.StatusAccepted
	if res.Joined {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// Mine handles GET /api/guild.
func (h *GuildHandler) Mine(c *gin.Context) {
	g, err := h.svc.GuildOfPlayer(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g.View())
}

// Leave handles POST /api/guild/leave.
func (h *GuildHandler) Leave(c *gin.Context) {
	if err := h.svc.LeaveGuild(c.Request.Context(), mw.GetPlayerID(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left guild"})
}

type targetRequest struct {
	PlayerID int64  `json:"player_id" binding:"required,min=1"`
	Reason   string `json:"reason"`
	Role     string `json:"role"`
}

// Kick handles POST /api/guild/kick.
func (h *GuildHandler) Kick(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.KickMember(c.Request.Context(), mw.GetPlayerID(c), req.PlayerID, req.Reason); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "member kicked"})
}

// ChangeRole handles POST /api/guild/role.
func (h *GuildHandler) ChangeRole(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Role == "" {
		badRequest(c, "role is required")
		return
	}
	if err := h.svc.ChangeMemberRole(c.Request.Context(), mw.GetPlayerID(c), req.PlayerID, strings.ToLower(req.Role)); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "role changed"})
}

// Transfer handles POST /api/guild/transfer.
func (h *GuildHandler) Transfer(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	playerID := mw.GetPlayerID(c)
	g, err := h.svc.GuildOfPlayer(ctx, playerID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if err := h.svc.TransferFoundership(ctx, g.ID, playerID, req.PlayerID); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "foundership transferred"})
}

type disbandRequest struct {
	Confirmation string `json:"confirmation" binding:"required"`
}

// Disband handles POST /api/guild/disband. The body must carry DISBAND_<TAG>.
func (h *GuildHandler) Disband(c *gin.Context) {
	var req disbandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.DisbandGuild(c.Request.Context(), mw.GetPlayerID(c), req.Confirmation); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "guild disbanded"})
}

// Settings handles PATCH /api/guild/settings.
func (h *GuildHandler) Settings(c *gin.Context) {
	var patch guild.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	g, err := h.svc.UpdateGuildConfig(c.Request.Context(), mw.GetPlayerID(c), patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g.View())
}

type treasuryRequest struct {
	Type    guild.ResourceType `json:"type" binding:"required"`
	SubType string             `json:"sub_type"`
	Amount  int64              `json:"amount" binding:"required"`
}

// Deposit handles POST /api/guild/deposit.
func (h *GuildHandler) Deposit(c *gin.Context) {
	h.treasury(c, h.svc.DepositResources)
}

// Withdraw handles POST /api/guild/withdraw.
func (h *GuildHandler) Withdraw(c *gin.Context) {
	h.treasury(c, h.svc.WithdrawResources)
}

func (h *GuildHandler) treasury(c *gin.Context, op func(ctx context.Context, playerID int64, r guild.Resource, amount int64) (*guild.TreasuryResult, error)) {
	var req treasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := op(c.Request.Context(), mw.GetPlayerID(c), guild.Resource{Type: req.Type, SubType: req.SubType}, req.Amount)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ActivatePerk handles POST /api/guild/perks/:perk.
func (h *GuildHandler) ActivatePerk(c *gin.Context) {
	if err := h.svc.ActivatePerk(c.Request.Context(), mw.GetPlayerID(c), c.Param("perk")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "perk activated", "perk": c.Param("perk")})
}

// ClaimTerritory handles POST /api/guild/territories/:territory.
func (h *GuildHandler) ClaimTerritory(c *gin.Context) {
	if err := h.svc.ClaimTerritory(c.Request.Context(), mw.GetPlayerID(c), c.Param("territory")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "territory claimed"})
}

// ReleaseTerritory handles DELETE /api/guild/territories/:territory.
func (h *GuildHandler) ReleaseTerritory(c *gin.Context) {
	if err := h.svc.ReleaseTerritory(c.Request.Context(), mw.GetPlayerID(c), c.Param("territory")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "territory released"})
}

type relationRequest struct {
	Kind guild.RelationKind `json:"kind" binding:"required"`
}

// SetRelation handles PUT /api/guild/relations/:target.
func (h *GuildHandler) SetRelation(c *gin.Context) {
	target, ok := paramID(c, "target")
	if !ok {
		return
	}
	var req relationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	kind := guild.RelationKind(strings.ToUpper(string(req.Kind)))
	if err := h.svc.SetGuildRelation(c.Request.Context(), mw.GetPlayerID(c), target, kind); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_id": target, "relation": kind})
}

// Applications handles GET /api/guild/applications?status=pending.
func (h *GuildHandler) Applications(c *gin.Context) {
	apps, err := h.svc.ListApplications(c.Request.Context(), mw.GetPlayerID(c), c.Query("status"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

type processRequest struct {
	Accept bool `json:"accept"`
}

// ProcessApplication handles POST /api/guild/applications/:id.
func (h *GuildHandler) ProcessApplication(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	app, err := h.svc.ProcessApplication(c.Request.Context(), id, req.Accept, mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, app)
}
