package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/socialgov/api/rest"
	"github.com/kasuganosora/socialgov/api/sse"
	"github.com/kasuganosora/socialgov/audit"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	dbadapter "github.com/kasuganosora/socialgov/db"
	"github.com/kasuganosora/socialgov/game/guild"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/game/reputation"
	mw "github.com/kasuganosora/socialgov/middleware"
	"github.com/kasuganosora/socialgov/model"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"github.com/kasuganosora/socialgov/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Player directory / presence / notifications ----
	hooks := hook.NewCenter(logger)
	dir := player.NewDirectory(db)
	presence := player.NewPresence(logger)
	notifier := player.NewPubSubNotifier(pubsub, logger)

	// ---- Reputation ----
	catalog := reputation.DefaultCatalog()
	if len(cfg.Reputation.Relations) > 0 {
		catalog, err = catalog.WithRelations(reputation.RelationsFromConfig(cfg.Reputation.Relations))
		if err != nil {
			log.Fatalf("reputation relations: %v", err)
		}
		logger.Info("faction graph overridden", zap.Int("edges", len(cfg.Reputation.Relations)))
	}
	engine := reputation.NewEngine(db, c, catalog, notifier, hooks, cfg.Reputation, logger)
	engine.SetAuditor(auditSvc)

	// ---- Guilds ----
	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	registry := guild.NewRegistry(db, logger)
	if err := registry.Load(bootCtx); err != nil {
		log.Fatalf("guild registry: %v", err)
	}
	defer registry.Stop()
	guilds := guild.NewService(db, c, registry, dir, notifier, hooks, cfg.Guild, logger)
	guilds.SetAuditor(auditSvc)
	guilds.SetPresence(presence)
	bootCancel()
	logger.Info("Guilds loaded", zap.Int("active", registry.Count()))

	// ---- Periodic Scheduler Tasks ----
	if err := sched.AddCron("reputation_decay", cfg.Reputation.DecaySchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		report, err := engine.RunDecay(ctx)
		if err != nil {
			logger.Error("reputation decay failed", zap.Error(err))
			return
		}
		logger.Info("reputation decay finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("decayed", report.Decayed),
			zap.Int("failed", report.Failed),
			zap.Duration("took", report.Duration))
	}); err != nil {
		log.Fatalf("decay schedule %q: %v", cfg.Reputation.DecaySchedule, err)
	}
	// Warm the leaderboards once the listener is up instead of blocking boot.
	sched.AddDelay("leaderboard_warmup", 2*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := guilds.RebuildLeaderboards(ctx); err != nil {
			logger.Warn("initial leaderboard rebuild failed", zap.Error(err))
		}
	})
	sched.AddTicker("leaderboard_refresh", cfg.Guild.LeaderboardRefresh, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := guilds.RebuildLeaderboards(ctx); err != nil {
			logger.Warn("leaderboard refresh failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "guilds": registry.Count(), "online": presence.Count()})
	})

	apirest.Register(r, apirest.Deps{
		DB:        db,
		Cache:     c,
		Server:    cfg.Server,
		Security:  cfg.Security,
		Directory: dir,
		Presence:  presence,
		Engine:    engine,
		Guilds:    guilds,
		Scheduler: sched,
		Logger:    logger,
	})

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, presence, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
