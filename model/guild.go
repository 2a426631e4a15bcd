package model

import (
	"time"

	"gorm.io/datatypes"
)

// Guild is the persisted guild row. Set-valued fields are JSON columns.
type Guild struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"uniqueIndex;size:50;not null" json:"name"`
	Tag         string `gorm:"uniqueIndex;size:5;not null" json:"tag"`
	Description string `gorm:"type:text" json:"description"`
	FounderID   int64  `gorm:"index;not null" json:"founder_id"`

	MaxMembers          int    `gorm:"default:50" json:"max_members"`
	RecruitmentOpen     bool   `json:"recruitment_open"`
	RequiresApplication bool   `json:"requires_application"`
	MinimumLevel        int    `gorm:"default:1" json:"minimum_level"`
	GuildType           string `gorm:"size:24;index" json:"guild_type"`

	Credits        int64          `gorm:"default:0" json:"credits"`
	Ores           datatypes.JSON `json:"ores"`
	Reputation     int64          `gorm:"default:0" json:"reputation"`
	Influence      int64          `gorm:"default:0" json:"influence"`
	ResearchPoints int64          `gorm:"default:0" json:"research_points"`

	TotalMembers       int   `gorm:"default:0" json:"total_members"`
	ActiveMembers      int   `gorm:"default:0" json:"active_members"`
	Level              int   `gorm:"default:1;index" json:"level"`
	Experience         int64 `gorm:"default:0" json:"experience"`
	TotalContributions int64 `gorm:"default:0" json:"total_contributions"`

	Territories   datatypes.JSON `json:"territories"`
	ActivePerks   datatypes.JSON `json:"active_perks"`
	UnlockedPerks datatypes.JSON `json:"unlocked_perks"`

	IsActive    bool       `gorm:"index;default:true" json:"is_active"`
	FoundedAt   time.Time  `gorm:"autoCreateTime" json:"founded_at"`
	DisbandedAt *time.Time `json:"disbanded_at"`
}

// GuildRole is one rank in a guild's hierarchy. Priority 0 is the highest.
type GuildRole struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID     int64          `gorm:"uniqueIndex:idx_guild_role_key;not null" json:"guild_id"`
	Key         string         `gorm:"uniqueIndex:idx_guild_role_key;size:24;not null" json:"key"`
	Name        string         `gorm:"size:32;not null" json:"name"`
	Priority    int            `gorm:"not null" json:"priority"`
	Permissions datatypes.JSON `json:"permissions"`
	MaxMembers  int            `gorm:"not null" json:"max_members"`
	IsDefault   bool           `json:"is_default"`
}

// GuildMember links a player to a guild. A player holds at most one row.
type GuildMember struct {
	PlayerID           int64     `gorm:"primaryKey;autoIncrement:false" json:"player_id"`
	GuildID            int64     `gorm:"index:idx_guild_member;not null" json:"guild_id"`
	RoleID             int64     `gorm:"not null" json:"role_id"`
	JoinedAt           time.Time `gorm:"not null" json:"joined_at"`
	ContributionPoints int64     `gorm:"default:0" json:"contribution_points"`
	LastActive         time.Time `json:"last_active"`
}

// Application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationAccepted = "accepted"
	ApplicationRejected = "rejected"
)

// GuildApplication is a player's request to join a guild.
type GuildApplication struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID    int64      `gorm:"index:idx_app_player;not null" json:"player_id"`
	GuildID     int64      `gorm:"index:idx_app_guild;not null" json:"guild_id"`
	Message     string     `gorm:"size:500" json:"message"`
	Status      string     `gorm:"size:16;not null;default:pending" json:"status"`
	AppliedAt   time.Time  `gorm:"not null" json:"applied_at"`
	ProcessedBy *int64     `json:"processed_by"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// GuildRelation is one direction of a diplomatic relation.
type GuildRelation struct {
	GuildID       int64     `gorm:"primaryKey;autoIncrement:false" json:"guild_id"`
	TargetGuildID int64     `gorm:"primaryKey;autoIncrement:false" json:"target_guild_id"`
	Kind          string    `gorm:"size:16;not null" json:"kind"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GuildEvent is an append-only entry in a guild's event log.
type GuildEvent struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID   int64          `gorm:"index:idx_guild_event;not null" json:"guild_id"`
	Kind      string         `gorm:"size:32;not null" json:"kind"`
	ActorID   int64          `json:"actor_id"`
	TargetID  int64          `json:"target_id"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}
