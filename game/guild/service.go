package guild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/model"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Guild event kinds.
const (
	EventCreated            = "created"
	EventMemberJoined       = "member_joined"
	EventMemberLeft         = "member_left"
	EventMemberKicked       = "member_kicked"
	EventRoleChanged        = "role_changed"
	EventFoundershipChanged = "foundership_transferred"
	EventApplication        = "application"
	EventApplicationDone    = "application_processed"
	EventDeposit            = "deposit"
	EventWithdraw           = "withdraw"
	EventLevelUp            = "level_up"
	EventPerkActivated      = "perk_activated"
	EventRelationChanged    = "relation_changed"
	EventSettingsChanged    = "settings_changed"
	EventTerritoryClaimed   = "territory_claimed"
	EventTerritoryReleased  = "territory_released"
	EventDisbanded          = "disbanded"
)

// MaxApplicationMessage bounds the length of an application message.
const MaxApplicationMessage = 500

// Auditor records governance operations.
type Auditor interface {
	Record(ctx context.Context, action string, playerID, guildID int64, req interface{}, start time.Time, err error)
}

// Service implements guild governance on top of the registry and store.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	registry *Registry
	dir      player.Directory
	notifier player.Notifier
	hooks    *hook.Center
	audit    Auditor
	presence *player.Presence
	cfg      config.GuildConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a guild service. Zero config values fall back to defaults.
func NewService(db *gorm.DB, c cache.Cache, registry *Registry, dir player.Directory,
	notifier player.Notifier, hooks *hook.Center, cfg config.GuildConfig, logger *zap.Logger) *Service {
	if cfg.MinFounderLevel <= 0 {
		cfg.MinFounderLevel = 10
	}
	if cfg.DefaultMaxMembers <= 0 {
		cfg.DefaultMaxMembers = 50
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Second
	}
	if cfg.LeaseWait < 0 {
		cfg.LeaseWait = 0
	}
	if cfg.EventPageSize <= 0 {
		cfg.EventPageSize = 20
	}
	return &Service{
		db:       db,
		cache:    c,
		registry: registry,
		dir:      dir,
		notifier: notifier,
		hooks:    hooks,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetAuditor enables audit logging of mutating operations.
func (svc *Service) SetAuditor(a Auditor) { svc.audit = a }

// SetPresence enables online flags in member listings.
func (svc *Service) SetPresence(p *player.Presence) { svc.presence = p }

// Registry returns the service's guild registry.
func (svc *Service) Registry() *Registry { return svc.registry }

func (svc *Service) record(ctx context.Context, action string, playerID, guildID int64, req interface{}, start time.Time, err error) {
	if svc.audit != nil {
		svc.audit.Record(ctx, action, playerID, guildID, req, start, err)
	}
}

// txn carries one mutation's transaction and its post-commit work.
type txn struct {
	ctx   context.Context
	tx    *gorm.DB
	now   time.Time
	after []func()
}

func (t *txn) event(guildID int64, kind string, actorID, targetID int64, details map[string]interface{}) error {
	return appendGuildEvent(t.tx, guildID, kind, actorID, targetID, details, t.now)
}

// onCommit queues fn to run once the transaction has committed.
func (t *txn) onCommit(fn func()) {
	t.after = append(t.after, fn)
}

// mutate serializes writers of the given guilds, runs fn against clones
// inside one transaction and publishes the clones only after commit.
func (svc *Service) mutate(ctx context.Context, ids []int64, fn func(t *txn, gs []*Guild) error) ([]*Guild, error) {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	ids = sortedIDs(set)

	for _, id := range ids {
		unlock := svc.registry.lock(id)
		defer unlock()
	}
	for _, id := range ids {
		release, err := svc.lease(ctx, id)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	prev := make([]*Guild, len(ids))
	next := make([]*Guild, len(ids))
	for i, id := range ids {
		g, err := svc.registry.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		prev[i] = g
		next[i] = g.Clone()
	}

	t := &txn{ctx: ctx, now: svc.now()}
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t.tx = tx
		if err := fn(t, next); err != nil {
			return err
		}
		for i, g := range next {
			if !g.IsActive {
				continue
			}
			if err := g.CheckInvariants(); err != nil {
				return apperr.Wrap(err, apperr.KindInternal, "guild invariant violated")
			}
			if err := saveGuild(tx, prev[i], g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "save guild")
	}

	for _, g := range next {
		svc.registry.put(g)
	}
	for _, fn := range t.after {
		fn()
	}
	return next, nil
}

func (svc *Service) mutateOne(ctx context.Context, id int64, fn func(t *txn, g *Guild) error) (*Guild, error) {
	gs, err := svc.mutate(ctx, []int64{id}, func(t *txn, gs []*Guild) error {
		return fn(t, gs[0])
	})
	if err != nil {
		return nil, err
	}
	return gs[0], nil
}

// classify maps store errors; concurrent inserts of the same membership or
// name surface as Conflict.
func classify(err error, msg string) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) && isUniqueViolation(err) {
		return apperr.Wrap(err, apperr.KindConflict, "conflicting concurrent change")
	}
	return apperr.Store(err, msg)
}

// lease takes the cluster-wide writer lease of a guild, waiting up to
// LeaseWait for another node to finish.
func (svc *Service) lease(ctx context.Context, guildID int64) (func(), error) {
	key := fmt.Sprintf("lock:guild:%d", guildID)
	l, err := cache.AcquireLease(ctx, svc.cache, key, svc.cfg.LeaseTTL, svc.cfg.LeaseWait)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "acquire guild lease")
	}
	if l == nil {
		return nil, apperr.New(apperr.KindUnavailable, "guild update in progress")
	}
	return func() {
		if err := l.Release(ctx); err != nil {
			svc.logger.Warn("guild lease release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (svc *Service) trigger(ctx context.Context, event string, data interface{}) {
	if svc.hooks == nil {
		return
	}
	if _, err := svc.hooks.Trigger(ctx, event, data); err != nil {
		svc.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}

func (svc *Service) notify(ctx context.Context, playerID int64, message, kind string) {
	if svc.notifier == nil {
		return
	}
	if err := svc.notifier.Notify(ctx, playerID, message, kind); err != nil {
		svc.logger.Warn("guild notify failed",
			zap.Int64("player_id", playerID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// notifyWith sends message to every member holding perm.
func (svc *Service) notifyWith(ctx context.Context, g *Guild, perm Permission, message, kind string) {
	for pid, m := range g.Members {
		if r, ok := g.Roles[m.RoleID]; ok && r.Has(perm) {
			svc.notify(ctx, pid, message, kind)
		}
	}
}

// MemberEvent is the payload of membership hooks.
type MemberEvent struct {
	GuildID  int64  `json:"guild_id"`
	PlayerID int64  `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

// CreateProposal is passed to BeforeGuildCreate hooks; returning
// hook.ErrInterrupt vetoes the creation.
type CreateProposal struct {
	FounderID int64
	Name      string
	Tag       string
	Config    Config
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < MinNameLen || n > MaxNameLen {
		return "", apperr.Newf(apperr.KindValidation, "guild name must be %d-%d characters", MinNameLen, MaxNameLen)
	}
	return name, nil
}

func normalizeTag(tag string) (string, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if n := utf8.RuneCountInString(tag); n < MinTagLen || n > MaxTagLen {
		return "", apperr.Newf(apperr.KindValidation, "guild tag must be %d-%d characters", MinTagLen, MaxTagLen)
	}
	for _, r := range tag {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", apperr.Validation("guild tag must be letters and digits")
		}
	}
	return tag, nil
}

func (svc *Service) normalizeConfig(c Config) (Config, error) {
	if c.MaxMembers == 0 {
		c.MaxMembers = svc.cfg.DefaultMaxMembers
	}
	if c.MaxMembers < 1 {
		return c, apperr.Validation("max members must be positive")
	}
	if c.MinimumLevel <= 0 {
		c.MinimumLevel = 1
	}
	if c.GuildType == "" {
		c.GuildType = "general"
	}
	return c, nil
}

// CreateGuild founds a guild with the six default roles and the founder as its only member.
func (svc *Service) CreateGuild(ctx context.Context, founderID int64, name, tag string, cfg Config) (_ *Guild, err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.create", founderID, guildID, map[string]interface{}{"name": name, "tag": tag, "config": cfg}, start, err)
	}()

	if name, err = normalizeName(name); err != nil {
		return nil, err
	}
	if tag, err = normalizeTag(tag); err != nil {
		return nil, err
	}
	if cfg, err = svc.normalizeConfig(cfg); err != nil {
		return nil, err
	}
	if gid, err := svc.registry.GuildOf(ctx, founderID); err != nil {
		return nil, err
	} else if gid != 0 {
		return nil, apperr.Conflict("player is already in a guild")
	}
	level, err := svc.dir.Level(ctx, founderID)
	if err != nil {
		return nil, err
	}
	if level < svc.cfg.MinFounderLevel {
		return nil, apperr.Newf(apperr.KindPermissionDenied, "founder must be at least level %d", svc.cfg.MinFounderLevel)
	}
	if err := svc.checkUnique(ctx, name, tag); err != nil {
		return nil, err
	}
	if svc.hooks != nil {
		if _, herr := svc.hooks.Trigger(ctx, hook.BeforeGuildCreate, &CreateProposal{founderID, name, tag, cfg}); herr != nil {
			return nil, apperr.Wrap(herr, apperr.KindPermissionDenied, "guild creation rejected")
		}
	}

	now := svc.now()
	g := newGuild(founderID, name, tag, cfg, now)
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertGuild(tx, g); err != nil {
			return err
		}
		return appendGuildEvent(tx, g.ID, EventCreated, founderID, 0,
			map[string]interface{}{"name": name, "tag": tag}, now)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(err, apperr.KindConflict, "guild name, tag or founder already taken")
		}
		return nil, apperr.Store(err, "create guild")
	}
	guildID = g.ID
	svc.registry.put(g)
	svc.updateLeaderboards(ctx, g)

	svc.logger.Info("guild created",
		zap.Int64("guild_id", g.ID),
		zap.String("name", g.Name),
		zap.String("tag", g.Tag),
		zap.Int64("founder_id", founderID))
	svc.trigger(ctx, hook.OnGuildCreated, g.Clone())
	return g.Clone(), nil
}

func newGuild(founderID int64, name, tag string, cfg Config, now time.Time) *Guild {
	g := &Guild{
		Name:          name,
		Tag:           tag,
		FounderID:     founderID,
		FoundedAt:     now,
		Config:        cfg,
		Resources:     Resources{Ores: make(map[string]int64)},
		Stats:         Stats{Level: 1},
		IsActive:      true,
		Territories:   make(map[string]bool),
		Relations:     make(map[int64]RelationKind),
		ActivePerks:   make(map[string]bool),
		UnlockedPerks: make(map[string]bool),
		Roles:         make(map[int64]*Role),
		Members:       make(map[int64]*Member),
	}
	// Placeholder ids until insertGuild assigns real ones.
	for i, r := range DefaultRoles() {
		r := r
		r.ID = int64(-(i + 1))
		g.Roles[r.ID] = &r
	}
	founder, _ := g.RoleByKey(RoleFounder)
	g.Members[founderID] = &Member{PlayerID: founderID, RoleID: founder.ID, JoinedAt: now, LastActive: now}
	g.recount(now)
	return g
}

func (svc *Service) checkUnique(ctx context.Context, name, tag string) error {
	nameTaken, tagTaken := svc.registry.NameTaken(name, tag)
	if !nameTaken && !tagTaken {
		var clash []model.Guild
		err := svc.db.WithContext(ctx).Select("name", "tag").
			Where("LOWER(name) = ? OR tag = ?", strings.ToLower(name), tag).Find(&clash).Error
		if err != nil {
			return apperr.Store(err, "check guild name")
		}
		for _, c := range clash {
			nameTaken = nameTaken || strings.EqualFold(c.Name, name)
			tagTaken = tagTaken || c.Tag == tag
		}
	}
	switch {
	case nameTaken:
		return apperr.Conflict("guild name already taken")
	case tagTaken:
		return apperr.Conflict("guild tag already taken")
	}
	return nil
}

// ApplyResult reports whether an application joined immediately or is pending.
type ApplyResult struct {
	Joined      bool                    `json:"joined"`
	GuildID     int64                   `json:"guild_id"`
	Application *model.GuildApplication `json:"application,omitempty"`
}

// ApplyToGuild joins an open guild directly or files a pending application.
func (svc *Service) ApplyToGuild(ctx context.Context, playerID, guildID int64, message string) (res *ApplyResult, err error) {
	start := time.Now()
	defer func() {
		svc.record(ctx, "guild.apply", playerID, guildID, map[string]interface{}{"message": message}, start, err)
	}()

	if utf8.RuneCountInString(message) > MaxApplicationMessage {
		return nil, apperr.Newf(apperr.KindValidation, "application message exceeds %d characters", MaxApplicationMessage)
	}
	if gid, err := svc.registry.GuildOf(ctx, playerID); err != nil {
		return nil, err
	} else if gid != 0 {
		return nil, apperr.Conflict("player is already in a guild")
	}
	g, err := svc.registry.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !g.Config.RecruitmentOpen {
		return nil, apperr.State("guild recruitment is closed")
	}
	if g.IsFull() {
		return nil, apperr.CapacityExceeded("guild is at capacity")
	}
	level, err := svc.dir.Level(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if level < g.Config.MinimumLevel {
		return nil, apperr.Newf(apperr.KindValidation, "guild requires level %d", g.Config.MinimumLevel)
	}

	res = &ApplyResult{GuildID: guildID}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if !g.Config.RecruitmentOpen {
			return apperr.State("guild recruitment is closed")
		}
		var pending int64
		if err := t.tx.Model(&model.GuildApplication{}).
			Where("player_id = ? AND guild_id = ? AND status = ?", playerID, guildID, model.ApplicationPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.Conflict("application already pending")
		}

		if g.Config.RequiresApplication {
			app := &model.GuildApplication{
				PlayerID:  playerID,
				GuildID:   guildID,
				Message:   message,
				Status:    model.ApplicationPending,
				AppliedAt: t.now,
			}
			if err := t.tx.Create(app).Error; err != nil {
				return err
			}
			res.Application = app
			if err := t.event(guildID, EventApplication, playerID, 0, map[string]interface{}{"application_id": app.ID}); err != nil {
				return err
			}
			t.onCommit(func() {
				svc.notifyWith(ctx, g, PermInvite,
					fmt.Sprintf("New application to [%s] %s", g.Tag, g.Name), player.KindApplication)
			})
			return nil
		}

		if err := svc.join(t, g, playerID); err != nil {
			return err
		}
		res.Joined = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// join adds playerID with the default role. It re-checks affiliation inside the transaction.
func (svc *Service) join(t *txn, g *Guild, playerID int64) error {
	gid, err := guildIDOf(t.tx, playerID)
	if err != nil {
		return err
	}
	if gid != 0 {
		return apperr.Conflict("player is already in a guild")
	}
	role := g.DefaultRole()
	if role == nil {
		return apperr.NotFound("guild has no default role")
	}
	if err := g.addMember(&Member{PlayerID: playerID, RoleID: role.ID, JoinedAt: t.now, LastActive: t.now}); err != nil {
		return err
	}
	if err := t.event(g.ID, EventMemberJoined, playerID, playerID, nil); err != nil {
		return err
	}
	ctx := t.ctx
	t.onCommit(func() {
		svc.notify(ctx, playerID, fmt.Sprintf("You joined [%s] %s", g.Tag, g.Name), player.KindGuild)
		svc.notify(ctx, g.FounderID, fmt.Sprintf("Player %d joined the guild", playerID), player.KindGuild)
		svc.updateLeaderboards(ctx, g)
		svc.trigger(ctx, hook.OnMemberJoined, &MemberEvent{GuildID: g.ID, PlayerID: playerID})
	})
	return nil
}

// ProcessApplication accepts or rejects a pending application.
func (svc *Service) ProcessApplication(ctx context.Context, appID int64, accept bool, processorID int64) (app *model.GuildApplication, err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.process_application", processorID, guildID,
			map[string]interface{}{"application_id": appID, "accept": accept}, start, err)
	}()

	app = &model.GuildApplication{}
	err = svc.db.WithContext(ctx).First(app, appID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("application not found")
	}
	if err != nil {
		return nil, apperr.Store(err, "load application")
	}
	if app.Status != model.ApplicationPending {
		return nil, apperr.State("application already processed")
	}
	guildID = app.GuildID

	_, err = svc.mutateOne(ctx, app.GuildID, func(t *txn, g *Guild) error {
		if _, role, ok := g.MemberRole(processorID); !ok || !role.Has(PermInvite) {
			return apperr.PermissionDenied("missing permission members.invite")
		}
		status := model.ApplicationRejected
		if accept {
			status = model.ApplicationAccepted
			if err := svc.join(t, g, app.PlayerID); err != nil {
				return err
			}
		}
		upd := t.tx.Model(&model.GuildApplication{}).
			Where("id = ? AND status = ?", app.ID, model.ApplicationPending).
			Updates(map[string]interface{}{"status": status, "processed_by": processorID, "processed_at": t.now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperr.State("application already processed")
		}
		app.Status = status
		app.ProcessedBy = &processorID
		app.ProcessedAt = &t.now
		if err := t.event(g.ID, EventApplicationDone, processorID, app.PlayerID,
			map[string]interface{}{"application_id": app.ID, "status": status}); err != nil {
			return err
		}
		if !accept {
			t.onCommit(func() {
				svc.notify(ctx, app.PlayerID, fmt.Sprintf("Your application to [%s] %s was declined", g.Tag, g.Name), player.KindApplication)
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns a guild's applications with the given status, oldest first.
// The caller must hold members.invite.
func (svc *Service) ListApplications(ctx context.Context, callerID int64, status string) ([]model.GuildApplication, error) {
	g, err := svc.registry.GuildOfPlayer(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if _, role, ok := g.MemberRole(callerID); !ok || !role.Has(PermInvite) {
		return nil, apperr.PermissionDenied("missing permission members.invite")
	}
	if status == "" {
		status = model.ApplicationPending
	}
	var apps []model.GuildApplication
	if err := svc.db.WithContext(ctx).Where("guild_id = ? AND status = ?", g.ID, status).
		Order("applied_at ASC, id ASC").Find(&apps).Error; err != nil {
		return nil, apperr.Store(err, "list applications")
	}
	return apps, nil
}

// LeaveGuild removes a non-founder from their guild.
func (svc *Service) LeaveGuild(ctx context.Context, playerID int64) (err error) {
	start := time.Now()
	var guildID int64
	defer func() { svc.record(ctx, "guild.leave", playerID, guildID, nil, start, err) }()

	if guildID, err = svc.registry.GuildOf(ctx, playerID); err != nil {
		return err
	}
	if guildID == 0 {
		return ErrNotInGuild
	}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if _, ok := g.Members[playerID]; !ok {
			return ErrNotInGuild
		}
		if g.IsFounder(playerID) {
			return apperr.State("founder must transfer foundership or disband")
		}
		g.removeMember(playerID, t.now)
		if err := t.event(g.ID, EventMemberLeft, playerID, playerID, nil); err != nil {
			return err
		}
		t.onCommit(func() {
			svc.notify(ctx, g.FounderID, fmt.Sprintf("Player %d left the guild", playerID), player.KindGuild)
			svc.updateLeaderboards(ctx, g)
			svc.trigger(ctx, hook.OnMemberLeft, &MemberEvent{GuildID: g.ID, PlayerID: playerID, Reason: "left"})
		})
		return nil
	})
	return err
}

// KickMember removes targetID from the kicker's guild.
func (svc *Service) KickMember(ctx context.Context, kickerID, targetID int64, reason string) (err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.kick", kickerID, guildID, map[string]interface{}{"target_id": targetID, "reason": reason}, start, err)
	}()

	if kickerID == targetID {
		return apperr.Validation("cannot kick yourself")
	}
	g, err := svc.registry.GuildOfPlayer(ctx, kickerID)
	if err != nil {
		return err
	}
	guildID = g.ID
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		_, kickerRole, ok := g.MemberRole(kickerID)
		if !ok {
			return ErrNotInGuild
		}
		_, targetRole, ok := g.MemberRole(targetID)
		if !ok {
			return apperr.NotFound("member not found")
		}
		if g.IsFounder(targetID) {
			return apperr.State("the founder cannot be kicked")
		}
		if !kickerRole.Has(PermKick) {
			return apperr.PermissionDenied("missing permission members.kick")
		}
		if !g.IsFounder(kickerID) && !kickerRole.Outranks(targetRole) {
			return apperr.PermissionDenied("cannot kick a member of equal or higher rank")
		}
		g.removeMember(targetID, t.now)
		if err := t.event(g.ID, EventMemberKicked, kickerID, targetID, map[string]interface{}{"reason": reason}); err != nil {
			return err
		}
		t.onCommit(func() {
			msg := fmt.Sprintf("You were removed from [%s] %s", g.Tag, g.Name)
			if reason != "" {
				msg += ": " + reason
			}
			svc.notify(ctx, targetID, msg, player.KindGuild)
			svc.updateLeaderboards(ctx, g)
			svc.trigger(ctx, hook.OnMemberLeft, &MemberEvent{GuildID: g.ID, PlayerID: targetID, Reason: "kicked"})
		})
		return nil
	})
	return err
}

// ChangeMemberRole moves targetID to the role with key roleKey. Assigning
// the founder role transfers foundership.
func (svc *Service) ChangeMemberRole(ctx context.Context, changerID, targetID int64, roleKey string) (err error) {
	g, err := svc.registry.GuildOfPlayer(ctx, changerID)
	if err != nil {
		return err
	}
	if roleKey == RoleFounder {
		return svc.TransferFoundership(ctx, g.ID, changerID, targetID)
	}

	start := time.Now()
	defer func() {
		svc.record(ctx, "guild.change_role", changerID, g.ID, map[string]interface{}{"target_id": targetID, "role": roleKey}, start, err)
	}()
	_, err = svc.mutateOne(ctx, g.ID, func(t *txn, g *Guild) error {
		_, changerRole, ok := g.MemberRole(changerID)
		if !ok {
			return ErrNotInGuild
		}
		_, currentRole, ok := g.MemberRole(targetID)
		if !ok {
			return apperr.NotFound("member not found")
		}
		newRole, ok := g.RoleByKey(roleKey)
		if !ok {
			return apperr.Newf(apperr.KindNotFound, "role %q not found", roleKey)
		}
		if newRole.ID == currentRole.ID {
			return apperr.Validation("member already holds that role")
		}
		if g.IsFounder(targetID) {
			return apperr.State("the founder's role changes only through transfer")
		}
		need := PermDemote
		if newRole.Outranks(currentRole) {
			need = PermPromote
		}
		if !changerRole.Has(need) {
			return apperr.PermissionDenied("missing permission " + string(need))
		}
		if !g.IsFounder(changerID) && (!changerRole.Outranks(currentRole) || !changerRole.Outranks(newRole)) {
			return apperr.PermissionDenied("cannot manage a role of equal or higher rank")
		}
		if err := g.setRole(targetID, newRole); err != nil {
			return err
		}
		if err := t.event(g.ID, EventRoleChanged, changerID, targetID,
			map[string]interface{}{"from": currentRole.Key, "to": newRole.Key}); err != nil {
			return err
		}
		t.onCommit(func() {
			svc.notify(ctx, targetID, fmt.Sprintf("Your role in [%s] is now %s", g.Tag, newRole.Name), player.KindGuild)
		})
		return nil
	})
	return err
}

// TransferFoundership hands the founder role to a member; the old founder becomes a leader.
func (svc *Service) TransferFoundership(ctx context.Context, guildID, currentID, nextID int64) (err error) {
	start := time.Now()
	defer func() {
		svc.record(ctx, "guild.transfer_foundership", currentID, guildID, map[string]interface{}{"new_founder_id": nextID}, start, err)
	}()

	if currentID == nextID {
		return apperr.Validation("player is already the founder")
	}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if !g.IsFounder(currentID) {
			return apperr.PermissionDenied("only the founder can transfer foundership")
		}
		if _, ok := g.Members[nextID]; !ok {
			return apperr.NotFound("new founder must be a member")
		}
		founder, _ := g.RoleByKey(RoleFounder)
		leader, _ := g.RoleByKey(RoleLeader)

		// Vacate the founder seat first so the cap of one holds throughout.
		g.Members[currentID].RoleID = leader.ID
		if g.roleCount(leader.ID) > leader.MaxMembers && g.Members[nextID].RoleID != leader.ID {
			return apperr.CapacityExceeded("leader role is full")
		}
		g.Members[nextID].RoleID = founder.ID
		g.FounderID = nextID
		if err := t.event(g.ID, EventFoundershipChanged, currentID, nextID, nil); err != nil {
			return err
		}
		t.onCommit(func() {
			svc.notify(ctx, nextID, fmt.Sprintf("You are now the founder of [%s] %s", g.Tag, g.Name), player.KindGuild)
		})
		return nil
	})
	return err
}

// DisbandToken is the confirmation string required to disband a guild.
func DisbandToken(tag string) string {
	return "DISBAND_" + strings.ToUpper(tag)
}

// DisbandGuild soft-disbands the founder's guild and releases every member.
func (svc *Service) DisbandGuild(ctx context.Context, playerID int64, confirmation string) (err error) {
	start := time.Now()
	var guildID int64
	defer func() { svc.record(ctx, "guild.disband", playerID, guildID, nil, start, err) }()

	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	guildID = g.ID
	ids := []int64{g.ID}
	for id := range g.Relations {
		if _, err := svc.registry.Get(ctx, id); err == nil {
			ids = append(ids, id)
		}
	}

	var released []int64
	_, err = svc.mutate(ctx, ids, func(t *txn, gs []*Guild) error {
		var target *Guild
		for _, x := range gs {
			if x.ID == guildID {
				target = x
			}
		}
		if !target.IsFounder(playerID) {
			return apperr.PermissionDenied("only the founder can disband the guild")
		}
		if confirmation != DisbandToken(target.Tag) {
			return apperr.State("confirmation token does not match")
		}
		for pid := range target.Members {
			released = append(released, pid)
		}
		for _, x := range gs {
			if x.ID != guildID {
				x.setRelation(guildID, RelationNone)
			}
		}
		if err := t.event(guildID, EventDisbanded, playerID, 0, map[string]interface{}{"members": len(released)}); err != nil {
			return err
		}
		if err := markDisbanded(t.tx, target, t.now); err != nil {
			return err
		}
		target.IsActive = false
		target.Relations = make(map[int64]RelationKind)
		t.onCommit(func() {
			svc.removeFromLeaderboards(ctx, guildID)
			for _, pid := range released {
				svc.notify(ctx, pid, fmt.Sprintf("[%s] %s has been disbanded", target.Tag, target.Name), player.KindGuild)
			}
			svc.trigger(ctx, hook.OnGuildDisbanded, target)
		})
		return nil
	})
	if err != nil {
		return err
	}
	svc.logger.Info("guild disbanded",
		zap.Int64("guild_id", guildID),
		zap.Int64("founder_id", playerID),
		zap.Int("released", len(released)))
	return nil
}

// ConfigPatch updates guild settings; nil fields are left unchanged.
type ConfigPatch struct {
	Description         *string `json:"description"`
	MaxMembers          *int    `json:"max_members"`
	RecruitmentOpen     *bool   `json:"recruitment_open"`
	RequiresApplication *bool   `json:"requires_application"`
	MinimumLevel        *int    `json:"minimum_level"`
	GuildType           *string `json:"guild_type"`
}

// UpdateGuildConfig applies patch to the caller's guild. Requires guild.settings.
func (svc *Service) UpdateGuildConfig(ctx context.Context, playerID int64, patch ConfigPatch) (_ *Guild, err error) {
	start := time.Now()
	var guildID int64
	defer func() { svc.record(ctx, "guild.update_config", playerID, guildID, patch, start, err) }()

	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	guildID = g.ID
	g, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if _, role, ok := g.MemberRole(playerID); !ok || !role.Has(PermSettings) {
			return apperr.PermissionDenied("missing permission guild.settings")
		}
		if patch.Description != nil {
			if utf8.RuneCountInString(*patch.Description) > 1000 {
				return apperr.Validation("description exceeds 1000 characters")
			}
			g.Description = *patch.Description
		}
		if patch.MaxMembers != nil {
			if *patch.MaxMembers < len(g.Members) || *patch.MaxMembers < 1 {
				return apperr.Validation("max members below current roster size")
			}
			g.Config.MaxMembers = *patch.MaxMembers
		}
		if patch.RecruitmentOpen != nil {
			g.Config.RecruitmentOpen = *patch.RecruitmentOpen
		}
		if patch.RequiresApplication != nil {
			g.Config.RequiresApplication = *patch.RequiresApplication
		}
		if patch.MinimumLevel != nil {
			if *patch.MinimumLevel < 1 {
				return apperr.Validation("minimum level must be positive")
			}
			g.Config.MinimumLevel = *patch.MinimumLevel
		}
		if patch.GuildType != nil && *patch.GuildType != "" {
			g.Config.GuildType = *patch.GuildType
		}
		return t.event(g.ID, EventSettingsChanged, playerID, 0, nil)
	})
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// ClaimTerritory adds a territory to the caller's guild. Requires territory.manage.
func (svc *Service) ClaimTerritory(ctx context.Context, playerID int64, territory string) error {
	return svc.territory(ctx, playerID, territory, true)
}

// ReleaseTerritory removes a territory from the caller's guild. Requires territory.manage.
func (svc *Service) ReleaseTerritory(ctx context.Context, playerID int64, territory string) error {
	return svc.territory(ctx, playerID, territory, false)
}

func (svc *Service) territory(ctx context.Context, playerID int64, territory string, claim bool) (err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.territory", playerID, guildID, map[string]interface{}{"territory": territory, "claim": claim}, start, err)
	}()

	territory = strings.TrimSpace(territory)
	if territory == "" {
		return apperr.Validation("territory is required")
	}
	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	guildID = g.ID
	if claim {
		for _, other := range svc.registry.All() {
			if other.ID != g.ID && other.Territories[territory] {
				return apperr.Conflict("territory is held by another guild")
			}
		}
	}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if _, role, ok := g.MemberRole(playerID); !ok || !role.Has(PermTerritory) {
			return apperr.PermissionDenied("missing permission territory.manage")
		}
		kind := EventTerritoryClaimed
		if claim {
			if g.Territories[territory] {
				return apperr.Conflict("territory already claimed")
			}
			g.Territories[territory] = true
		} else {
			if !g.Territories[territory] {
				return apperr.NotFound("territory not held")
			}
			delete(g.Territories, territory)
			kind = EventTerritoryReleased
		}
		if err := t.event(g.ID, kind, playerID, 0, map[string]interface{}{"territory": territory}); err != nil {
			return err
		}
		t.onCommit(func() { svc.updateLeaderboards(ctx, g) })
		return nil
	})
	return err
}
