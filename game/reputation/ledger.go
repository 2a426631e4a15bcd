package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ledger reads and writes reputation records and their history.
// Reads never create records; only writes inside a transaction do.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a Ledger over db.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Get returns the current value for the pair, or 0 if none exists.
func (l *Ledger) Get(ctx context.Context, playerID int64, factionID string) (float64, error) {
	rec, err := findRecord(l.db.WithContext(ctx), playerID, factionID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Value, nil
}

// Records returns every record the player holds.
func (l *Ledger) Records(ctx context.Context, playerID int64) ([]model.ReputationRecord, error) {
	var recs []model.ReputationRecord
	if err := l.db.WithContext(ctx).Where("player_id = ?", playerID).Find(&recs).Error; err != nil {
		return nil, apperr.Store(err, "load reputation records")
	}
	return recs, nil
}

// History returns events newest first along with the retained total.
func (l *Ledger) History(ctx context.Context, playerID int64, page, pageSize int) ([]model.ReputationEvent, int64, error) {
	q := l.db.WithContext(ctx).Model(&model.ReputationEvent{}).Where("player_id = ?", playerID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Store(err, "count reputation history")
	}
	var events []model.ReputationEvent
	err := q.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error
	if err != nil {
		return nil, 0, apperr.Store(err, "load reputation history")
	}
	return events, total, nil
}

// Consequences returns the newest consequence log rows for the player.
func (l *Ledger) Consequences(ctx context.Context, playerID int64, limit int) ([]model.ConsequenceLog, error) {
	var logs []model.ConsequenceLog
	err := l.db.WithContext(ctx).Where("player_id = ?", playerID).Order("id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, apperr.Store(err, "load consequence log")
	}
	return logs, nil
}

func findRecord(tx *gorm.DB, playerID int64, factionID string) (*model.ReputationRecord, error) {
	var rec model.ReputationRecord
	err := tx.Where("player_id = ? AND faction_id = ?", playerID, factionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store(err, "load reputation record")
	}
	return &rec, nil
}

// writeValue upserts the pair inside tx and stamps last_updated_at.
func writeValue(tx *gorm.DB, rec *model.ReputationRecord, playerID int64, factionID string, value float64, now time.Time) error {
	if rec == nil {
		return tx.Create(&model.ReputationRecord{
			PlayerID:      playerID,
			FactionID:     factionID,
			Value:         value,
			LastUpdatedAt: now,
		}).Error
	}
	return tx.Model(&model.ReputationRecord{}).Where("id = ?", rec.ID).
		Updates(map[string]interface{}{"value": value, "last_updated_at": now}).Error
}

// writeDecayedValue updates only the value, leaving last_updated_at untouched.
// It reports false when the record was written since it was read or is no
// longer idle before cutoff.
func writeDecayedValue(tx *gorm.DB, rec *model.ReputationRecord, value float64, cutoff time.Time) (bool, error) {
	res := tx.Model(&model.ReputationRecord{}).
		Where("id = ? AND value = ? AND last_updated_at < ?", rec.ID, rec.Value, cutoff).
		Update("value", value)
	return res.RowsAffected == 1, res.Error
}

func appendEvent(tx *gorm.DB, playerID int64, factionID, code string, delta float64, reason string, snapshot interface{}, now time.Time) error {
	ev := &model.ReputationEvent{
		PlayerID:   playerID,
		FactionID:  factionID,
		ActionCode: code,
		Delta:      delta,
		Reason:     reason,
		CreatedAt:  now,
	}
	if snapshot != nil {
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		ev.Context = datatypes.JSON(raw)
	}
	return tx.Create(ev).Error
}

// trimOldest keeps the newest keep rows of table for the player.
func trimOldest(tx *gorm.DB, table interface{}, playerID int64, keep int) error {
	if keep <= 0 {
		return nil
	}
	var cutoff []int64
	err := tx.Model(table).Where("player_id = ?", playerID).
		Order("id DESC").Offset(keep).Limit(1).Pluck("id", &cutoff).Error
	if err != nil || len(cutoff) == 0 {
		return err
	}
	return tx.Where("player_id = ? AND id <= ?", playerID, cutoff[0]).Delete(table).Error
}
