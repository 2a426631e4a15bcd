package reputation

import (
	"fmt"
	"time"

	"github.com/kasuganosora/socialgov/model"
	"gorm.io/gorm"
)

// ConsequenceKind is the closed set of tier-transition consequences.
type ConsequenceKind int

const (
	ConsequenceUnlockSpecialServices ConsequenceKind = iota + 1
	ConsequenceDiplomaticImmunity
	ConsequenceMaximumDiscount
	ConsequenceDeclareHostile
	ConsequenceRevokeTradePrivileges
)

func (k ConsequenceKind) String() string {
	switch k {
	case ConsequenceUnlockSpecialServices:
		return "UNLOCK_SPECIAL_SERVICES"
	case ConsequenceDiplomaticImmunity:
		return "DIPLOMATIC_IMMUNITY"
	case ConsequenceMaximumDiscount:
		return "MAXIMUM_DISCOUNT"
	case ConsequenceDeclareHostile:
		return "DECLARE_HOSTILE"
	case ConsequenceRevokeTradePrivileges:
		return "REVOKE_TRADE_PRIVILEGES"
	}
	return fmt.Sprintf("ConsequenceKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k ConsequenceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Consequence is one executed transition effect.
type Consequence struct {
	Kind      ConsequenceKind `json:"kind"`
	PlayerID  int64           `json:"player_id"`
	FactionID string          `json:"faction_id"`
	From      Tier            `json:"from"`
	To        Tier            `json:"to"`
	Message   string          `json:"message"`
}

// ResolveConsequences returns the consequences of moving from one tier to another.
// No transition yields none.
func ResolveConsequences(from, to Tier) []ConsequenceKind {
	fr, tr := from.Rank(), to.Rank()
	switch {
	case fr == tr:
		return nil
	case tr > fr:
		switch to {
		case TierFriendly:
			return []ConsequenceKind{ConsequenceUnlockSpecialServices}
		case TierAllied:
			return []ConsequenceKind{ConsequenceDiplomaticImmunity, ConsequenceMaximumDiscount}
		}
	default:
		switch {
		case to == TierHostile:
			return []ConsequenceKind{ConsequenceDeclareHostile}
		case to == TierUnfriendly && fr >= TierNeutral.Rank():
			return []ConsequenceKind{ConsequenceRevokeTradePrivileges}
		}
	}
	return nil
}

func consequenceMessage(k ConsequenceKind, faction string) string {
	switch k {
	case ConsequenceUnlockSpecialServices:
		return fmt.Sprintf("%s now offers you its special services.", faction)
	case ConsequenceDiplomaticImmunity:
		return fmt.Sprintf("%s grants you diplomatic immunity.", faction)
	case ConsequenceMaximumDiscount:
		return fmt.Sprintf("%s extends its maximum trade discount to you.", faction)
	case ConsequenceDeclareHostile:
		return fmt.Sprintf("%s has declared you hostile. Its ships will attack on sight.", faction)
	case ConsequenceRevokeTradePrivileges:
		return fmt.Sprintf("%s has revoked your contract and trade privileges.", faction)
	}
	panic(fmt.Sprintf("reputation: unhandled consequence kind %d", int(k)))
}

// recordConsequences resolves the transition and writes one log row per consequence.
func (e *Engine) recordConsequences(tx *gorm.DB, playerID int64, factionID string, from, to Tier, now time.Time) ([]Consequence, error) {
	kinds := ResolveConsequences(from, to)
	if len(kinds) == 0 {
		return nil, nil
	}
	name := e.catalog.factionName(factionID)
	out := make([]Consequence, 0, len(kinds))
	for _, k := range kinds {
		c := Consequence{
			Kind:      k,
			PlayerID:  playerID,
			FactionID: factionID,
			From:      from,
			To:        to,
			Message:   consequenceMessage(k, name),
		}
		row := &model.ConsequenceLog{
			PlayerID:  playerID,
			FactionID: factionID,
			Kind:      k.String(),
			FromTier:  string(from),
			ToTier:    string(to),
			CreatedAt: now,
		}
		if err := tx.Create(row).Error; err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := trimOldest(tx, &model.ConsequenceLog{}, playerID, e.cfg.ConsequenceCap); err != nil {
		return nil, err
	}
	return out, nil
}
