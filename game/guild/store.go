package guild

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func encodeSet(s map[string]bool) datatypes.JSON {
	data, _ := json.Marshal(sortedKeys(s))
	return datatypes.JSON(data)
}

func decodeSet(raw datatypes.JSON) map[string]bool {
	out := make(map[string]bool)
	if len(raw) == 0 {
		return out
	}
	var ids []string
	if json.Unmarshal(raw, &ids) != nil {
		return out
	}
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func encodeOres(ores map[string]int64) datatypes.JSON {
	if ores == nil {
		ores = map[string]int64{}
	}
	data, _ := json.Marshal(ores)
	return datatypes.JSON(data)
}

func decodeOres(raw datatypes.JSON) map[string]int64 {
	out := make(map[string]int64)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func toRow(g *Guild) *model.Guild {
	return &model.Guild{
		ID:                  g.ID,
		Name:                g.Name,
		Tag:                 g.Tag,
		Description:         g.Description,
		FounderID:           g.FounderID,
		MaxMembers:          g.Config.MaxMembers,
		RecruitmentOpen:     g.Config.RecruitmentOpen,
		RequiresApplication: g.Config.RequiresApplication,
		MinimumLevel:        g.Config.MinimumLevel,
		GuildType:           g.Config.GuildType,
		Credits:             g.Resources.Credits,
		Ores:                encodeOres(g.Resources.Ores),
		Reputation:          g.Resources.Reputation,
		Influence:           g.Resources.Influence,
		ResearchPoints:      g.Resources.ResearchPoints,
		TotalMembers:        g.Stats.TotalMembers,
		ActiveMembers:       g.Stats.ActiveMembers,
		Level:               g.Stats.Level,
		Experience:          g.Stats.Experience,
		TotalContributions:  g.Stats.TotalContributions,
		Territories:         encodeSet(g.Territories),
		ActivePerks:         encodeSet(g.ActivePerks),
		UnlockedPerks:       encodeSet(g.UnlockedPerks),
		IsActive:            g.IsActive,
		FoundedAt:           g.FoundedAt,
	}
}

func fromRow(row *model.Guild) *Guild {
	return &Guild{
		ID:          row.ID,
		Name:        row.Name,
		Tag:         row.Tag,
		Description: row.Description,
		FounderID:   row.FounderID,
		FoundedAt:   row.FoundedAt,
		Config: Config{
			MaxMembers:          row.MaxMembers,
			RecruitmentOpen:     row.RecruitmentOpen,
			RequiresApplication: row.RequiresApplication,
			MinimumLevel:        row.MinimumLevel,
			GuildType:           row.GuildType,
		},
		Resources: Resources{
			Credits:        row.Credits,
			Ores:           decodeOres(row.Ores),
			Reputation:     row.Reputation,
			Influence:      row.Influence,
			ResearchPoints: row.ResearchPoints,
		},
		Stats: Stats{
			TotalMembers:       row.TotalMembers,
			ActiveMembers:      row.ActiveMembers,
			Level:              row.Level,
			Experience:         row.Experience,
			TotalContributions: row.TotalContributions,
		},
		IsActive:      row.IsActive,
		Territories:   decodeSet(row.Territories),
		ActivePerks:   decodeSet(row.ActivePerks),
		UnlockedPerks: decodeSet(row.UnlockedPerks),
		Relations:     make(map[int64]RelationKind),
		Roles:         make(map[int64]*Role),
		Members:       make(map[int64]*Member),
	}
}

func roleRow(guildID int64, r *Role) *model.GuildRole {
	perms, _ := json.Marshal(r.Permissions)
	return &model.GuildRole{
		ID:          r.ID,
		GuildID:     guildID,
		Key:         r.Key,
		Name:        r.Name,
		Priority:    r.Priority,
		Permissions: datatypes.JSON(perms),
		MaxMembers:  r.MaxMembers,
		IsDefault:   r.IsDefault,
	}
}

func memberRow(guildID int64, m *Member) *model.GuildMember {
	return &model.GuildMember{
		PlayerID:           m.PlayerID,
		GuildID:            guildID,
		RoleID:             m.RoleID,
		JoinedAt:           m.JoinedAt,
		ContributionPoints: m.ContributionPoints,
		LastActive:         m.LastActive,
	}
}

// loadGuild reads an active guild with its roles, roster and relations.
func loadGuild(db *gorm.DB, id int64) (*Guild, error) {
	var row model.Guild
	err := db.Where("id = ? AND is_active = ?", id, true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("guild not found")
	}
	if err != nil {
		return nil, apperr.Store(err, "load guild")
	}
	g := fromRow(&row)
	if err := loadChildren(db, []*Guild{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// loadActive reads every active guild.
func loadActive(db *gorm.DB) ([]*Guild, error) {
	var rows []model.Guild
	if err := db.Where("is_active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, apperr.Store(err, "load guilds")
	}
	out := make([]*Guild, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	if err := loadChildren(db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func loadChildren(db *gorm.DB, guilds []*Guild) error {
	if len(guilds) == 0 {
		return nil
	}
	byID := make(map[int64]*Guild, len(guilds))
	ids := make([]int64, len(guilds))
	for i, g := range guilds {
		byID[g.ID] = g
		ids[i] = g.ID
	}

	var roles []model.GuildRole
	if err := db.Where("guild_id IN ?", ids).Find(&roles).Error; err != nil {
		return apperr.Store(err, "load guild roles")
	}
	for _, r := range roles {
		var perms []Permission
		_ = json.Unmarshal(r.Permissions, &perms)
		byID[r.GuildID].Roles[r.ID] = &Role{
			ID:          r.ID,
			Key:         r.Key,
			Name:        r.Name,
			Priority:    r.Priority,
			Permissions: perms,
			MaxMembers:  r.MaxMembers,
			IsDefault:   r.IsDefault,
		}
	}

	var members []model.GuildMember
	if err := db.Where("guild_id IN ?", ids).Find(&members).Error; err != nil {
		return apperr.Store(err, "load guild members")
	}
	for _, m := range members {
		byID[m.GuildID].Members[m.PlayerID] = &Member{
			PlayerID:           m.PlayerID,
			RoleID:             m.RoleID,
			JoinedAt:           m.JoinedAt,
			ContributionPoints: m.ContributionPoints,
			LastActive:         m.LastActive,
		}
	}

	var rels []model.GuildRelation
	if err := db.Where("guild_id IN ?", ids).Find(&rels).Error; err != nil {
		return apperr.Store(err, "load guild relations")
	}
	for _, r := range rels {
		byID[r.GuildID].Relations[r.TargetGuildID] = RelationKind(r.Kind)
	}
	return nil
}

// guildIDOf returns the guild a player belongs to, or 0.
func guildIDOf(db *gorm.DB, playerID int64) (int64, error) {
	var m model.GuildMember
	err := db.Select("guild_id").Where("player_id = ?", playerID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Store(err, "load membership")
	}
	return m.GuildID, nil
}

// insertGuild writes a new guild, its roles and roster, assigning ids.
func insertGuild(tx *gorm.DB, g *Guild) error {
	row := toRow(g)
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	g.ID = row.ID
	g.FoundedAt = row.FoundedAt

	// Roles are keyed by id, so re-key after insert and remap member role ids.
	remap := make(map[int64]int64, len(g.Roles))
	roles := make(map[int64]*Role, len(g.Roles))
	for tmp, r := range g.Roles {
		rr := roleRow(g.ID, r)
		rr.ID = 0
		if err := tx.Create(rr).Error; err != nil {
			return err
		}
		r.ID = rr.ID
		roles[r.ID] = r
		remap[tmp] = r.ID
	}
	g.Roles = roles
	for _, m := range g.Members {
		m.RoleID = remap[m.RoleID]
		if err := tx.Create(memberRow(g.ID, m)).Error; err != nil {
			return err
		}
	}
	return nil
}

// saveGuild writes the guild row and syncs roster and relation rows
// against the previous state.
func saveGuild(tx *gorm.DB, prev, next *Guild) error {
	err := tx.Model(&model.Guild{}).Where("id = ?", next.ID).
		Select("*").Omit("id", "founded_at", "disbanded_at").
		Updates(toRow(next)).Error
	if err != nil {
		return err
	}

	for id, m := range next.Members {
		old, ok := prev.Members[id]
		switch {
		case !ok:
			err = tx.Create(memberRow(next.ID, m)).Error
		case *old != *m:
			err = tx.Model(&model.GuildMember{}).Where("player_id = ? AND guild_id = ?", id, next.ID).
				Select("role_id", "contribution_points", "last_active").
				Updates(memberRow(next.ID, m)).Error
		}
		if err != nil {
			return err
		}
	}
	for id := range prev.Members {
		if _, ok := next.Members[id]; !ok {
			if err := tx.Where("player_id = ? AND guild_id = ?", id, next.ID).Delete(&model.GuildMember{}).Error; err != nil {
				return err
			}
		}
	}

	for target, kind := range next.Relations {
		if prev.Relations[target] == kind {
			continue
		}
		err := tx.Where("guild_id = ? AND target_guild_id = ?", next.ID, target).Delete(&model.GuildRelation{}).Error
		if err == nil {
			err = tx.Create(&model.GuildRelation{GuildID: next.ID, TargetGuildID: target, Kind: string(kind), UpdatedAt: time.Now()}).Error
		}
		if err != nil {
			return err
		}
	}
	for target := range prev.Relations {
		if _, ok := next.Relations[target]; !ok {
			if err := tx.Where("guild_id = ? AND target_guild_id = ?", next.ID, target).Delete(&model.GuildRelation{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// markDisbanded soft-deletes the guild and clears the rows that tie players
// and other guilds to it.
func markDisbanded(tx *gorm.DB, g *Guild, now time.Time) error {
	err := tx.Model(&model.Guild{}).Where("id = ?", g.ID).Updates(map[string]interface{}{
		"is_active":      false,
		"disbanded_at":   now,
		"total_members":  0,
		"active_members": 0,
	}).Error
	if err != nil {
		return err
	}
	if err := tx.Where("guild_id = ?", g.ID).Delete(&model.GuildMember{}).Error; err != nil {
		return err
	}
	if err := tx.Where("guild_id = ? OR target_guild_id = ?", g.ID, g.ID).Delete(&model.GuildRelation{}).Error; err != nil {
		return err
	}
	return tx.Model(&model.GuildApplication{}).
		Where("guild_id = ? AND status = ?", g.ID, model.ApplicationPending).
		Updates(map[string]interface{}{"status": model.ApplicationRejected, "processed_at": now}).Error
}

func appendGuildEvent(tx *gorm.DB, guildID int64, kind string, actorID, targetID int64, details map[string]interface{}, now time.Time) error {
	var raw datatypes.JSON
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(data)
	}
	return tx.Create(&model.GuildEvent{
		GuildID:   guildID,
		Kind:      kind,
		ActorID:   actorID,
		TargetID:  targetID,
		Details:   raw,
		CreatedAt: now,
	}).Error
}

// isUniqueViolation recognises unique-constraint failures across the supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

func sortedIDs(ids map[int64]bool) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
