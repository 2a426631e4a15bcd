package reputation

import (
	"math"
	"time"

	"gorm.io/gorm"
)

type multipliers struct {
	positive float64
	negative float64
}

// propagationTable scales the originating delta by edge kind and sign.
// Helping a faction hurts its enemies; harming it helps them.
var propagationTable = map[RelationKind]multipliers{
	RelationAllied:  {positive: 0.3, negative: 0.1},
	RelationEnemy:   {positive: -0.2, negative: -0.5},
	RelationNeutral: {positive: 0, negative: 0},
}

// MinPropagatedDelta is the smallest secondary delta that is written.
const MinPropagatedDelta = 0.1

// SecondaryDelta computes the unrounded delta carried along r.
func SecondaryDelta(delta float64, r Relation) float64 {
	m := propagationTable[r.Kind]
	if delta >= 0 {
		return delta * m.positive * r.Strength
	}
	return delta * m.negative * r.Strength
}

// PropagationResult is one secondary write to a related faction.
type PropagationResult struct {
	FactionID    string        `json:"faction_id"`
	Relation     RelationKind  `json:"relation"`
	Delta        float64       `json:"delta"`
	OldValue     float64       `json:"old_value"`
	NewValue     float64       `json:"new_value"`
	OldTier      Tier          `json:"old_tier"`
	NewTier      Tier          `json:"new_tier"`
	Consequences []Consequence `json:"consequences,omitempty"`
}

// propagate applies one hop of secondary deltas from origin inside tx.
func (e *Engine) propagate(tx *gorm.DB, playerID int64, origin string, delta float64, now time.Time) ([]PropagationResult, error) {
	var out []PropagationResult
	for _, edge := range e.catalog.Relations(origin) {
		secondary := SecondaryDelta(delta, edge)
		if math.Abs(secondary) < MinPropagatedDelta {
			continue
		}
		secondary = round1(secondary)

		rec, err := findRecord(tx, playerID, edge.To)
		if err != nil {
			return nil, err
		}
		var old float64
		if rec != nil {
			old = rec.Value
		}
		next := clamp(round1(old + secondary))
		if next == old {
			continue
		}
		if err := writeValue(tx, rec, playerID, edge.To, next, now); err != nil {
			return nil, err
		}
		applied := round1(next - old)
		snapshot := map[string]interface{}{"origin": origin, "relation": edge.Kind, "strength": edge.Strength}
		if err := appendEvent(tx, playerID, edge.To, ActionPropagation, applied, "Propagated from "+e.catalog.factionName(origin), snapshot, now); err != nil {
			return nil, err
		}
		res := PropagationResult{
			FactionID: edge.To,
			Relation:  edge.Kind,
			Delta:     applied,
			OldValue:  old,
			NewValue:  next,
			OldTier:   ResolveStanding(old).Tier,
			NewTier:   ResolveStanding(next).Tier,
		}
		res.Consequences, err = e.recordConsequences(tx, playerID, edge.To, res.OldTier, res.NewTier, now)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
