// Package player provides the player directory, presence tracking and the
// outbound notification channel consumed by the governance services.
package player

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/model"
	"gorm.io/gorm"
)

// Directory answers level and last-login lookups for players.
type Directory interface {
	Level(ctx context.Context, playerID int64) (int, error)
	LastLogin(ctx context.Context, playerID int64) (time.Time, error)
}

// GormDirectory reads the players table.
type GormDirectory struct {
	db *gorm.DB
}

// NewDirectory creates a Directory backed by db.
func NewDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) find(ctx context.Context, playerID int64) (*model.Player, error) {
	var p model.Player
	err := d.db.WithContext(ctx).Select("id", "level", "status", "last_login_at").First(&p, playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("player not found")
	}
	if err != nil {
		return nil, apperr.Store(err, "player lookup")
	}
	return &p, nil
}

// Level returns the player's level.
func (d *GormDirectory) Level(ctx context.Context, playerID int64) (int, error) {
	p, err := d.find(ctx, playerID)
	if err != nil {
		return 0, err
	}
	return p.Level, nil
}

// LastLogin returns the last login time, or the zero time if the player never logged in.
func (d *GormDirectory) LastLogin(ctx context.Context, playerID int64) (time.Time, error) {
	p, err := d.find(ctx, playerID)
	if err != nil {
		return time.Time{}, err
	}
	if p.LastLoginAt == nil {
		return time.Time{}, nil
	}
	return *p.LastLoginAt, nil
}

// TouchLogin records a successful login.
func (d *GormDirectory) TouchLogin(ctx context.Context, playerID int64, ip string) error {
	now := time.Now()
	return d.db.WithContext(ctx).Model(&model.Player{}).Where("id = ?", playerID).
		Updates(map[string]interface{}{"last_login_at": now, "last_login_ip": ip}).Error
}
