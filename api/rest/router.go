package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/guild"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/game/reputation"
	mw "github.com/kasuganosora/socialgov/middleware"
	"github.com/kasuganosora/socialgov/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps are the services the REST API is built on.
type Deps struct {
	DB        *gorm.DB
	Cache     cache.Cache
	Server    config.ServerConfig
	Security  config.SecurityConfig
	Directory *player.GormDirectory
	Presence  *player.Presence
	Engine    *reputation.Engine
	Guilds    *guild.Service
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

func (d Deps) rateLimit() gin.HandlerFunc {
	if d.Security.RateLimitRPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return mw.RateLimit(rate.Limit(d.Security.RateLimitRPS), d.Security.RateLimitBurst)
}

// Register mounts every /api route on r.
func Register(r gin.IRouter, d Deps) {
	authH := NewAuthHandler(d.DB, d.Cache, d.Security, d.Directory, d.Logger)
	repH := NewReputationHandler(d.Engine, d.Logger)
	guildH := NewGuildHandler(d.Guilds, d.Logger)
	adminH := NewAdminHandler(d.DB, d.Engine, d.Guilds, d.Scheduler, d.Presence, d.Logger)

	api := r.Group("/api")

	authG := api.Group("/auth")
	authG.POST("/login", d.rateLimit(), authH.Login)

	authed := api.Group("", mw.Auth(d.Security, d.Cache), d.rateLimit())
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)
	authed.GET("/auth/me", authH.Me)

	repG := authed.Group("/reputation")
	repG.GET("", repH.Summary)
	repG.GET("/catalog", repH.Catalog)
	repG.GET("/history", repH.History)
	repG.GET("/consequences", repH.Consequences)
	repG.GET("/factions/:faction", repH.Standing)
	repG.GET("/factions/:faction/can-interact", repH.CanInteract)

	guildsG := authed.Group("/guilds")
	guildsG.GET("", guildH.Search)
	guildsG.POST("", guildH.Create)
	guildsG.GET("/leaderboard", guildH.Leaderboard)
	guildsG.GET("/perks", guildH.Perks)
	guildsG.GET("/:id", guildH.Detail)
	guildsG.GET("/:id/members", guildH.Members)
	guildsG.GET("/:id/events", guildH.Events)
	guildsG.GET("/:id/relations/:other", guildH.Relation)
	guildsG.POST("/:id/apply", guildH.Apply)

	mine := authed.Group("/guild")
	mine.GET("", guildH.Mine)
	mine.POST("/leave", guildH.Leave)
	mine.POST("/kick", guildH.Kick)
	mine.POST("/role", guildH.ChangeRole)
	mine.POST("/transfer", guildH.Transfer)
	mine.POST("/disband", guildH.Disband)
	mine.PATCH("/settings", guildH.Settings)
	mine.POST("/deposit", guildH.Deposit)
	mine.POST("/withdraw", guildH.Withdraw)
	mine.POST("/perks/:perk", guildH.ActivatePerk)
	mine.POST("/territories/:territory", guildH.ClaimTerritory)
	mine.DELETE("/territories/:territory", guildH.ReleaseTerritory)
	mine.PUT("/relations/:target", guildH.SetRelation)
	mine.GET("/applications", guildH.Applications)
	mine.POST("/applications/:id", guildH.ProcessApplication)

	adminG := api.Group("/admin", mw.IPWhitelist(d.Server.AdminIPs), AdminAuth(d.Server.AdminKey))
	adminG.GET("/metrics", adminH.Metrics)
	adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	adminG.POST("/decay", adminH.RunDecay)
	adminG.POST("/leaderboards/rebuild", adminH.RebuildLeaderboards)
	adminG.POST("/reputation/actions", repH.ApplyAction)
	adminG.POST("/guilds/:id/experience", adminH.GrantExperience)
	adminG.PUT("/players/:id/level", adminH.SetPlayerLevel)
	adminG.POST("/players/:id/ban", adminH.BanPlayer)
}
