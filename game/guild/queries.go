package guild

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// View is the serializable snapshot of a guild.
type View struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Tag           string    `json:"tag"`
	Description   string    `json:"description"`
	FounderID     int64     `json:"founder_id"`
	FoundedAt     time.Time `json:"founded_at"`
	Config        Config    `json:"config"`
	Resources     Resources `json:"resources"`
	Stats         Stats     `json:"stats"`
	Capacity      int       `json:"capacity"`
	Territories   []string  `json:"territories"`
	ActivePerks   []string  `json:"active_perks"`
	UnlockedPerks []string  `json:"unlocked_perks"`
	Allies        []int64   `json:"allies"`
	Enemies       []int64   `json:"enemies"`
	Neutral       []int64   `json:"neutral"`
	Roles         []Role    `json:"roles"`
}

// View returns the serializable snapshot of g.
func (g *Guild) View() *View {
	v := &View{
		ID:            g.ID,
		Name:          g.Name,
		Tag:           g.Tag,
		Description:   g.Description,
		FounderID:     g.FounderID,
		FoundedAt:     g.FoundedAt,
		Config:        g.Config,
		Resources:     g.Resources,
		Stats:         g.Stats,
		Capacity:      g.Capacity(),
		Territories:   sortedKeys(g.Territories),
		ActivePerks:   sortedKeys(g.ActivePerks),
		UnlockedPerks: sortedKeys(g.UnlockedPerks),
		Allies:        g.RelationSet(RelationAlly),
		Enemies:       g.RelationSet(RelationEnemy),
		Neutral:       g.RelationSet(RelationNeutral),
	}
	for _, r := range g.SortedRoles() {
		v.Roles = append(v.Roles, *r)
	}
	return v
}

// GetGuild returns a copy of an active guild.
func (svc *Service) GetGuild(ctx context.Context, guildID int64) (*Guild, error) {
	g, err := svc.registry.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// GuildOfPlayer returns a copy of the player's guild.
func (svc *Service) GuildOfPlayer(ctx context.Context, playerID int64) (*Guild, error) {
	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// MemberView is one roster row.
type MemberView struct {
	Member
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

// Members returns the roster ordered by rank, then join time.
func (svc *Service) Members(ctx context.Context, guildID int64) ([]MemberView, error) {
	g, err := svc.registry.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberView, 0, len(g.Members))
	prio := make(map[int64]int, len(g.Members))
	for pid, m := range g.Members {
		r := g.Roles[m.RoleID]
		mv := MemberView{Member: *m}
		if r != nil {
			mv.Role = r.Key
			prio[pid] = r.Priority
		}
		if svc.presence != nil {
			mv.Online = svc.presence.Online(pid)
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := prio[out[i].PlayerID], prio[out[j].PlayerID]
		if pi != pj {
			return pi < pj
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out, nil
}

// SearchFilter narrows SearchGuilds. Zero fields match everything.
type SearchFilter struct {
	Query          string `form:"q" json:"q"`
	GuildType      string `form:"type" json:"type"`
	RecruitingOnly bool   `form:"recruiting" json:"recruiting"`
	MinLevel       int    `form:"min_level" json:"min_level"`
	MaxLevel       int    `form:"max_level" json:"max_level"`
	Limit          int    `form:"limit" json:"limit"`
}

// SearchGuilds matches active guilds by name or tag substring, type,
// recruitment and level range. Results are ordered by level, then name.
func (svc *Service) SearchGuilds(ctx context.Context, f SearchFilter) []*View {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var hits []*Guild
	for _, g := range svc.registry.All() {
		if q != "" && !strings.Contains(strings.ToLower(g.Name), q) && !strings.Contains(strings.ToLower(g.Tag), q) {
			continue
		}
		if f.GuildType != "" && !strings.EqualFold(g.Config.GuildType, f.GuildType) {
			continue
		}
		if f.RecruitingOnly && (!g.Config.RecruitmentOpen || g.IsFull()) {
			continue
		}
		if f.MinLevel > 0 && g.Stats.Level < f.MinLevel {
			continue
		}
		if f.MaxLevel > 0 && g.Stats.Level > f.MaxLevel {
			continue
		}
		hits = append(hits, g)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Stats.Level != hits[j].Stats.Level {
			return hits[i].Stats.Level > hits[j].Stats.Level
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*View, len(hits))
	for i, g := range hits {
		out[i] = g.View()
	}
	return out
}

// Leaderboard metrics.
const (
	MetricLevel       = "level"
	MetricMembers     = "members"
	MetricResources   = "resources"
	MetricTerritories = "territories"
	MetricExperience  = "experience"
)

var metrics = []string{MetricLevel, MetricMembers, MetricResources, MetricTerritories, MetricExperience}

// Metrics returns the supported leaderboard metrics.
func Metrics() []string {
	return append([]string(nil), metrics...)
}

// score ranks g by metric. Level ties break on experience.
func score(g *Guild, metric string) float64 {
	switch metric {
	case MetricLevel:
		return float64(g.Stats.Level)*1e12 + float64(g.Stats.Experience)
	case MetricMembers:
		return float64(g.Stats.TotalMembers)
	case MetricResources:
		return float64(g.Resources.Credits)
	case MetricTerritories:
		return float64(len(sortedKeys(g.Territories)))
	case MetricExperience:
		return float64(g.Stats.Experience)
	}
	return 0
}

func leaderboardKey(metric string) string {
	return "leaderboard:" + metric
}

func validMetric(metric string) bool {
	for _, m := range metrics {
		if m == metric {
			return true
		}
	}
	return false
}

// LeaderboardEntry is one ranked guild.
type LeaderboardEntry struct {
	Rank    int     `json:"rank"`
	GuildID int64   `json:"guild_id"`
	Name    string  `json:"name"`
	Tag     string  `json:"tag"`
	Level   int     `json:"level"`
	Value   float64 `json:"value"`
}

// Leaderboard returns the top guilds by metric.
func (svc *Service) Leaderboard(ctx context.Context, metric string, limit int) ([]LeaderboardEntry, error) {
	if !validMetric(metric) {
		return nil, apperr.Newf(apperr.KindValidation, "unknown leaderboard metric %q", metric)
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	zs, err := svc.cache.ZRevRangeWithScores(ctx, leaderboardKey(metric), 0, int64(limit-1))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "read leaderboard")
	}
	out := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		id, err := strconv.ParseInt(z.Member, 10, 64)
		if err != nil {
			continue
		}
		g, err := svc.registry.Get(ctx, id)
		if err != nil {
			continue
		}
		value := z.Score
		if metric == MetricLevel {
			value = float64(g.Stats.Level)
		}
		out = append(out, LeaderboardEntry{
			Rank:    len(out) + 1,
			GuildID: g.ID,
			Name:    g.Name,
			Tag:     g.Tag,
			Level:   g.Stats.Level,
			Value:   value,
		})
	}
	return out, nil
}

func (svc *Service) updateLeaderboards(ctx context.Context, g *Guild) {
	member := strconv.FormatInt(g.ID, 10)
	for _, m := range metrics {
		if err := svc.cache.ZAdd(ctx, leaderboardKey(m), score(g, m), member); err != nil {
			svc.logger.Warn("leaderboard update failed",
				zap.Int64("guild_id", g.ID),
				zap.String("metric", m),
				zap.Error(err))
			return
		}
	}
}

func (svc *Service) removeFromLeaderboards(ctx context.Context, guildID int64) {
	member := strconv.FormatInt(guildID, 10)
	for _, m := range metrics {
		if err := svc.cache.ZRem(ctx, leaderboardKey(m), member); err != nil {
			svc.logger.Warn("leaderboard remove failed", zap.Int64("guild_id", guildID), zap.Error(err))
		}
	}
}

// RebuildLeaderboards rewrites every leaderboard from the registry.
func (svc *Service) RebuildLeaderboards(ctx context.Context) error {
	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = leaderboardKey(m)
	}
	if err := svc.cache.Del(ctx, keys...); err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "reset leaderboards")
	}
	guilds := svc.registry.All()
	for _, g := range guilds {
		svc.updateLeaderboards(ctx, g)
	}
	svc.logger.Debug("leaderboards rebuilt", zap.Int("guilds", len(guilds)))
	return nil
}

// Events returns a page of the guild's event log, newest first. The caller
// must be a member holding events.view.
func (svc *Service) Events(ctx context.Context, callerID, guildID int64, page, pageSize int) ([]model.GuildEvent, int64, error) {
	g, err := svc.registry.Get(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}
	if _, role, ok := g.MemberRole(callerID); !ok || !role.Has(PermViewEvents) {
		return nil, 0, apperr.PermissionDenied("missing permission events.view")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = svc.cfg.EventPageSize
	}
	base := svc.db.WithContext(ctx).Model(&model.GuildEvent{}).Where("guild_id = ?", guildID).Session(&gorm.Session{})
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperr.Store(err, "count guild events")
	}
	var events []model.GuildEvent
	if err := base.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error; err != nil {
		return nil, 0, apperr.Store(err, "list guild events")
	}
	return events, total, nil
}
