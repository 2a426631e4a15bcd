package guild

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/game/player"
)

// SetGuildRelation sets the stance between the initiator's guild and target
// in both directions. RelationNone clears it. Requires diplomacy.manage.
func (svc *Service) SetGuildRelation(ctx context.Context, initiatorID, targetGuildID int64, kind RelationKind) (err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.set_relation", initiatorID, guildID,
			map[string]interface{}{"target_guild_id": targetGuildID, "kind": kind}, start, err)
	}()

	if !kind.valid() {
		return apperr.Newf(apperr.KindValidation, "unknown relation kind %q", kind)
	}
	g, err := svc.registry.GuildOfPlayer(ctx, initiatorID)
	if err != nil {
		return err
	}
	guildID = g.ID
	if targetGuildID == guildID {
		return apperr.Validation("a guild cannot set a relation with itself")
	}
	if _, err := svc.registry.Get(ctx, targetGuildID); err != nil {
		return err
	}

	_, err = svc.mutate(ctx, []int64{guildID, targetGuildID}, func(t *txn, gs []*Guild) error {
		self, other := gs[0], gs[1]
		if self.ID != guildID {
			self, other = other, self
		}
		if _, role, ok := self.MemberRole(initiatorID); !ok || !role.Has(PermDiplomacy) {
			return apperr.PermissionDenied("missing permission diplomacy.manage")
		}
		prev := self.Relation(other.ID)
		if prev == kind {
			return nil
		}
		self.setRelation(other.ID, kind)
		other.setRelation(self.ID, kind)
		details := map[string]interface{}{"from": prev, "to": kind}
		if err := t.event(self.ID, EventRelationChanged, initiatorID, other.ID, details); err != nil {
			return err
		}
		if err := t.event(other.ID, EventRelationChanged, initiatorID, self.ID, details); err != nil {
			return err
		}
		t.onCommit(func() {
			svc.notifyWith(ctx, other, PermDiplomacy,
				fmt.Sprintf("[%s] set relations with your guild to %s", self.Tag, kind), player.KindDiplomacy)
		})
		return nil
	})
	return err
}

// GetDiplomaticRelation returns a's stance toward b. Missing or disbanded guilds yield RelationNone.
func (svc *Service) GetDiplomaticRelation(ctx context.Context, a, b int64) (RelationKind, error) {
	if a == b {
		return RelationNone, nil
	}
	g, err := svc.registry.Get(ctx, a)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return RelationNone, nil
		}
		return RelationNone, err
	}
	kind := g.Relation(b)
	if kind == RelationNone {
		return kind, nil
	}
	if _, err := svc.registry.Get(ctx, b); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return RelationNone, nil
		}
		return RelationNone, err
	}
	return kind, nil
}
