package model

import (
	"time"

	"gorm.io/datatypes"
)

// ReputationRecord is the ledger row for one (player, faction) pair.
type ReputationRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID      int64     `gorm:"uniqueIndex:idx_rep_pair;not null" json:"player_id"`
	FactionID     string    `gorm:"uniqueIndex:idx_rep_pair;size:32;not null" json:"faction_id"`
	Value         float64   `gorm:"not null;default:0" json:"value"`
	LastUpdatedAt time.Time `gorm:"index:idx_rep_updated;not null" json:"last_updated_at"`
}

// ReputationEvent is one append-only history entry.
type ReputationEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID   int64          `gorm:"index:idx_rep_event_player;not null" json:"player_id"`
	FactionID  string         `gorm:"size:32;not null" json:"faction_id"`
	ActionCode string         `gorm:"size:48;not null" json:"action_code"`
	Delta      float64        `json:"delta"`
	Reason     string         `gorm:"size:255" json:"reason"`
	Context    datatypes.JSON `json:"context"`
	CreatedAt  time.Time      `gorm:"index:idx_rep_event_created;not null" json:"created_at"`
}

// ConsequenceLog records one executed tier-transition consequence.
type ConsequenceLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID  int64     `gorm:"index:idx_consequence_player;not null" json:"player_id"`
	FactionID string    `gorm:"size:32;not null" json:"faction_id"`
	Kind      string    `gorm:"size:48;not null" json:"kind"`
	FromTier  string    `gorm:"size:16" json:"from_tier"`
	ToTier    string    `gorm:"size:16" json:"to_tier"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
