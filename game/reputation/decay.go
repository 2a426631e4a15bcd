package reputation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DecayReport summarizes one decay sweep.
type DecayReport struct {
	Scanned     int           `json:"scanned"`
	Decayed     int           `json:"decayed"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Transitions int           `json:"transitions"`
	Duration    time.Duration `json:"duration"`
}

var errDecaySkip = errors.New("decay skipped")

const decayBatchSize = 200

// DecayStep returns the signed step that moves value toward zero.
func DecayStep(value, rate float64) float64 {
	step := math.Min(rate, math.Abs(value)*0.01)
	if value > 0 {
		return -step
	}
	return step
}

// RunDecay moves every idle record one step toward zero. Records touched
// within the grace window are skipped. Each record is its own transaction;
// a failing record is logged and counted without aborting the sweep.
func (e *Engine) RunDecay(ctx context.Context) (DecayReport, error) {
	start := time.Now()
	cutoff := e.now().Add(-e.cfg.DecayGrace)
	var report DecayReport

	var batch []model.ReputationRecord
	err := e.db.WithContext(ctx).
		Where("last_updated_at < ? AND value <> 0", cutoff).
		FindInBatches(&batch, decayBatchSize, func(_ *gorm.DB, _ int) error {
			ids := make([]int64, len(batch))
			for i, r := range batch {
				ids[i] = r.ID
			}
			report.Scanned += len(ids)
			for _, id := range ids {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				crossed, err := e.decayRecord(ctx, id, cutoff)
				switch {
				case errors.Is(err, errDecaySkip):
					report.Skipped++
				case err != nil:
					report.Failed++
					e.logger.Error("decay record failed", zap.Int64("record_id", id), zap.Error(err))
				default:
					report.Decayed++
					if crossed {
						report.Transitions++
					}
				}
			}
			return nil
		}).Error
	report.Duration = time.Since(start)

	if e.audit != nil {
		e.audit.Record(ctx, "reputation.decay", 0, 0, report, start, err)
	}
	if err != nil {
		return report, apperr.Store(err, "decay sweep")
	}
	e.logger.Info("reputation decay sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("decayed", report.Decayed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("transitions", report.Transitions),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// decayRecord applies one decay step without taking the player's write
// lease. The write is conditional on the value and timestamp read inside the
// transaction, so an interactive update that lands first wins.
func (e *Engine) decayRecord(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	var rec model.ReputationRecord
	now := e.now()
	var (
		consequences []Consequence
		crossed      bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&rec, id).Error; err != nil {
			return err
		}
		if !rec.LastUpdatedAt.Before(cutoff) || rec.Value == 0 {
			return errDecaySkip
		}
		step := DecayStep(rec.Value, e.cfg.DecayRate)
		next := math.Round((rec.Value+step)*1e6) / 1e6
		if ok, err := writeDecayedValue(tx, &rec, next, cutoff); err != nil {
			return err
		} else if !ok {
			return errDecaySkip
		}
		if err := appendEvent(tx, rec.PlayerID, rec.FactionID, ActionDecay, next-rec.Value, "Reputation decay", nil, now); err != nil {
			return err
		}
		from, to := ResolveStanding(rec.Value).Tier, ResolveStanding(next).Tier
		crossed = from != to
		var err error
		if consequences, err = e.recordConsequences(tx, rec.PlayerID, rec.FactionID, from, to, now); err != nil {
			return err
		}
		return trimOldest(tx, &model.ReputationEvent{}, rec.PlayerID, e.cfg.HistoryLimit)
	})
	if err != nil {
		return false, err
	}
	e.invalidate(ctx, rec.PlayerID, rec.FactionID)
	e.dispatch(ctx, consequences)
	return crossed, nil
}
