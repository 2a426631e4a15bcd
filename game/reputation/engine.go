// Package reputation implements the faction reputation ledger, standing
// resolution, action application with propagation, decay and consequences.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/model"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownAction  = apperr.New(apperr.KindValidation, "unknown action")
	ErrUnknownFaction = apperr.New(apperr.KindValidation, "unknown faction")
)

// Auditor records governance operations.
type Auditor interface {
	Record(ctx context.Context, action string, playerID, guildID int64, req interface{}, start time.Time, err error)
}

// ActionContext scales an action. Zero Multiplier or FactionModifier means 1.
// Value is the economic value of the triggering event; at or below 100 it has no effect.
type ActionContext struct {
	Multiplier      float64                `json:"multiplier,omitempty"`
	FactionModifier float64                `json:"faction_modifier,omitempty"`
	Value           float64                `json:"value,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// ActionResult is the before/after snapshot of one ApplyAction call.
type ActionResult struct {
	PlayerID     int64               `json:"player_id"`
	FactionID    string              `json:"faction_id"`
	ActionCode   string              `json:"action_code"`
	OldValue     float64             `json:"old_value"`
	NewValue     float64             `json:"new_value"`
	OldTier      Tier                `json:"old_tier"`
	NewTier      Tier                `json:"new_tier"`
	Delta        float64             `json:"delta"`
	Propagated   []PropagationResult `json:"propagated,omitempty"`
	Consequences []Consequence       `json:"consequences,omitempty"`
}

// TierChanged reports whether the primary pair crossed a tier boundary.
func (r *ActionResult) TierChanged() bool { return r.OldTier != r.NewTier }

// FactionStanding is a denormalized view of one (player, faction) pair.
type FactionStanding struct {
	Faction Faction `json:"faction"`
	Value   float64 `json:"value"`
	Standing
}

// Engine applies actions to the ledger and serves standing queries.
type Engine struct {
	db       *gorm.DB
	cache    cache.Cache
	ledger   *Ledger
	catalog  *Catalog
	notifier player.Notifier
	hooks    *hook.Center
	audit    Auditor
	cfg      config.ReputationConfig
	logger   *zap.Logger
	now      func() time.Time
	locks    *playerLocks
}

// NewEngine creates an Engine. Zero config values fall back to defaults,
// except DecayGrace where zero means every record is eligible for decay.
func NewEngine(db *gorm.DB, c cache.Cache, catalog *Catalog, notifier player.Notifier,
	hooks *hook.Center, cfg config.ReputationConfig, logger *zap.Logger) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.DecayGrace < 0 {
		cfg.DecayGrace = 7 * 24 * time.Hour
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = 1.0
	}
	if cfg.StandingTTL <= 0 {
		cfg.StandingTTL = 10 * time.Minute
	}
	if cfg.WriteLeaseTTL <= 0 {
		cfg.WriteLeaseTTL = 5 * time.Second
	}
	if cfg.WriteLeaseWait < 0 {
		cfg.WriteLeaseWait = 0
	}
	if cfg.ConsequenceCap <= 0 {
		cfg.ConsequenceCap = 200
	}
	return &Engine{
		db:       db,
		cache:    c,
		ledger:   NewLedger(db),
		catalog:  catalog,
		notifier: notifier,
		hooks:    hooks,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		locks:    newPlayerLocks(),
	}
}

// SetAuditor enables audit logging of ApplyAction and RunDecay.
func (e *Engine) SetAuditor(a Auditor) { e.audit = a }

// Catalog returns the engine's faction and action catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Ledger returns the underlying ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// RawDelta applies the context scaling to a base delta.
func RawDelta(base float64, actx ActionContext) float64 {
	m := actx.Multiplier
	if m == 0 {
		m = 1
	}
	fm := actx.FactionModifier
	if fm == 0 {
		fm = 1
	}
	scale := 1.0
	if actx.Value > 0 {
		scale = 1 + 0.2*math.Log10(math.Max(1, actx.Value/100))
	}
	return base * m * fm * scale
}

// Diminish shrinks same-sign deltas as current approaches an extreme.
func Diminish(raw, current float64) float64 {
	switch {
	case raw > 0 && current > 50:
		return raw * (100 - current) / 50
	case raw < 0 && current < -50:
		return raw * (100 + current) / 50
	}
	return raw
}

// ApplyAction applies a catalog action to the (player, faction) pair.
func (e *Engine) ApplyAction(ctx context.Context, playerID int64, factionID, actionCode string, actx ActionContext) (*ActionResult, error) {
	start := time.Now()
	res, err := e.applyAction(ctx, playerID, factionID, actionCode, actx)
	if e.audit != nil {
		e.audit.Record(ctx, "reputation.apply_action", playerID, 0,
			map[string]interface{}{"faction_id": factionID, "action": actionCode, "context": actx}, start, err)
	}
	return res, err
}

func (e *Engine) applyAction(ctx context.Context, playerID int64, factionID, actionCode string, actx ActionContext) (*ActionResult, error) {
	action, ok := e.catalog.Action(actionCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionCode)
	}
	if _, ok := e.catalog.Faction(factionID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	if playerID <= 0 {
		return nil, apperr.Validation("player id is required")
	}

	reason := actx.Reason
	if reason == "" {
		reason = action.Description
	}
	raw := RawDelta(action.BaseDelta, actx)
	res := &ActionResult{PlayerID: playerID, FactionID: factionID, ActionCode: actionCode}

	err := e.withWriter(ctx, playerID, func() error {
		now := e.now()
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return e.commitAction(tx, res, raw, reason, actx, now)
		})
		if err != nil {
			return apperr.Store(err, "apply reputation action")
		}
		touched := []string{factionID}
		for _, p := range res.Propagated {
			touched = append(touched, p.FactionID)
		}
		e.invalidate(ctx, playerID, touched...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("reputation action applied",
		zap.Int64("player_id", playerID),
		zap.String("faction_id", factionID),
		zap.String("action", actionCode),
		zap.Float64("delta", res.Delta),
		zap.Float64("value", res.NewValue),
		zap.Int("propagated", len(res.Propagated)))

	e.trigger(ctx, hook.AfterReputationChange, res)
	if res.TierChanged() {
		e.trigger(ctx, hook.OnStandingChanged, res)
	}
	e.dispatch(ctx, res.Consequences)
	for _, p := range res.Propagated {
		e.dispatch(ctx, p.Consequences)
	}
	return res, nil
}

// commitAction runs inside the action transaction and fills res.
func (e *Engine) commitAction(tx *gorm.DB, res *ActionResult, raw float64, reason string, actx ActionContext, now time.Time) error {
	playerID, factionID := res.PlayerID, res.FactionID
	rec, err := findRecord(tx, playerID, factionID)
	if err != nil {
		return err
	}
	if rec != nil {
		res.OldValue = rec.Value
	}
	delta := round1(Diminish(raw, res.OldValue))
	res.NewValue = clamp(round1(res.OldValue + delta))
	res.Delta = round1(res.NewValue - res.OldValue)
	res.OldTier = ResolveStanding(res.OldValue).Tier
	res.NewTier = ResolveStanding(res.NewValue).Tier

	if err := writeValue(tx, rec, playerID, factionID, res.NewValue, now); err != nil {
		return err
	}
	if err := appendEvent(tx, playerID, factionID, res.ActionCode, res.Delta, reason, actx, now); err != nil {
		return err
	}
	if res.Consequences, err = e.recordConsequences(tx, playerID, factionID, res.OldTier, res.NewTier, now); err != nil {
		return err
	}
	// Propagation uses the rounded pre-clamp delta.
	if res.Propagated, err = e.propagate(tx, playerID, factionID, delta, now); err != nil {
		return err
	}
	return trimOldest(tx, &model.ReputationEvent{}, playerID, e.cfg.HistoryLimit)
}

// withWriter runs fn as the only writer of playerID's ledger: first the
// in-process player lock, then the cluster lease lock:rep:<id>, waiting up
// to WriteLeaseWait for another node.
func (e *Engine) withWriter(ctx context.Context, playerID int64, fn func() error) error {
	unlock := e.locks.lock(playerID)
	defer unlock()

	key := fmt.Sprintf("lock:rep:%d", playerID)
	l, err := cache.AcquireLease(ctx, e.cache, key, e.cfg.WriteLeaseTTL, e.cfg.WriteLeaseWait)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "acquire reputation lease")
	}
	if l == nil {
		return apperr.New(apperr.KindUnavailable, "reputation update in progress")
	}
	defer func() {
		if err := l.Release(ctx); err != nil {
			e.logger.Warn("reputation lease release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

func (e *Engine) trigger(ctx context.Context, event string, data interface{}) {
	if e.hooks == nil {
		return
	}
	if _, err := e.hooks.Trigger(ctx, event, data); err != nil {
		e.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}

func (e *Engine) dispatch(ctx context.Context, consequences []Consequence) {
	if e.notifier == nil {
		return
	}
	for _, c := range consequences {
		if err := e.notifier.Notify(ctx, c.PlayerID, c.Message, player.KindConsequence); err != nil {
			e.logger.Warn("consequence notify failed",
				zap.Int64("player_id", c.PlayerID),
				zap.String("faction_id", c.FactionID),
				zap.Stringer("kind", c.Kind),
				zap.Error(err))
		}
	}
}

func standingKey(playerID int64, factionID string) string {
	return fmt.Sprintf("standing:%d:%s", playerID, factionID)
}

func (e *Engine) invalidate(ctx context.Context, playerID int64, factionIDs ...string) {
	keys := make([]string, len(factionIDs))
	for i, f := range factionIDs {
		keys[i] = standingKey(playerID, f)
	}
	if err := e.cache.Del(ctx, keys...); err != nil {
		e.logger.Warn("standing cache invalidation failed", zap.Int64("player_id", playerID), zap.Error(err))
	}
}

// Standing returns the value and resolved standing for the pair, read through the cache.
func (e *Engine) Standing(ctx context.Context, playerID int64, factionID string) (*FactionStanding, error) {
	faction, ok := e.catalog.Faction(factionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	key := standingKey(playerID, factionID)
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var fs FactionStanding
		if json.Unmarshal([]byte(raw), &fs) == nil {
			return &fs, nil
		}
	} else if !cache.IsNotFound(err) {
		e.logger.Warn("standing cache read failed", zap.String("key", key), zap.Error(err))
	}

	value, err := e.ledger.Get(ctx, playerID, factionID)
	if err != nil {
		return nil, err
	}
	fs := &FactionStanding{Faction: faction, Value: value, Standing: ResolveStanding(value)}
	if data, err := json.Marshal(fs); err == nil {
		if err := e.cache.Set(ctx, key, string(data), e.cfg.StandingTTL); err != nil {
			e.logger.Warn("standing cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return fs, nil
}

// CanInteract reports whether the player's standing permits the interaction kind.
func (e *Engine) CanInteract(ctx context.Context, playerID int64, factionID, kind string) (bool, error) {
	fs, err := e.Standing(ctx, playerID, factionID)
	if err != nil {
		return false, err
	}
	return fs.Effects.Permits(kind), nil
}

// Summary returns every catalog faction with the player's value and standing.
// Factions without a record report 0.
func (e *Engine) Summary(ctx context.Context, playerID int64) ([]FactionStanding, error) {
	recs, err := e.ledger.Records(ctx, playerID)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(recs))
	for _, r := range recs {
		values[r.FactionID] = r.Value
	}
	out := make([]FactionStanding, 0, len(recs))
	for _, f := range e.catalog.Factions() {
		v := values[f.ID]
		out = append(out, FactionStanding{Faction: f, Value: v, Standing: ResolveStanding(v)})
	}
	return out, nil
}

// History returns a page of the player's events, newest first.
func (e *Engine) History(ctx context.Context, playerID int64, page, pageSize int) ([]model.ReputationEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > e.cfg.HistoryLimit {
		pageSize = e.cfg.HistoryLimit
	}
	return e.ledger.History(ctx, playerID, page, pageSize)
}

// Consequences returns the player's most recent consequence log rows.
func (e *Engine) Consequences(ctx context.Context, playerID int64, limit int) ([]model.ConsequenceLog, error) {
	if limit < 1 || limit > e.cfg.ConsequenceCap {
		limit = e.cfg.ConsequenceCap
	}
	return e.ledger.Consequences(ctx, playerID, limit)
}
