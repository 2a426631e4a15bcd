package guild

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"go.uber.org/zap"
)

// ContributionRate is the share of a deposit credited as contribution points and experience.
const ContributionRate = 0.1

// TreasuryResult is the outcome of a deposit or withdrawal.
type TreasuryResult struct {
	GuildID      int64    `json:"guild_id"`
	Resource     Resource `json:"resource"`
	Amount       int64    `json:"amount"`
	Balance      int64    `json:"balance"`
	Contribution int64    `json:"contribution,omitempty"`
	Experience   int64    `json:"experience,omitempty"`
	LevelsGained []int    `json:"levels_gained,omitempty"`
	Unlocked     []string `json:"unlocked_perks,omitempty"`
}

// LevelUpEvent is the payload of OnGuildLevelUp hooks.
type LevelUpEvent struct {
	GuildID  int64    `json:"guild_id"`
	Level    int      `json:"level"`
	Unlocked []string `json:"unlocked_perks,omitempty"`
}

// DepositResources adds amount of r to the player's guild treasury. Requires resources.deposit.
func (svc *Service) DepositResources(ctx context.Context, playerID int64, r Resource, amount int64) (res *TreasuryResult, err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.deposit", playerID, guildID, map[string]interface{}{"resource": r, "amount": amount}, start, err)
	}()

	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	guildID = g.ID

	res = &TreasuryResult{GuildID: guildID, Resource: r, Amount: amount}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		m, role, ok := g.MemberRole(playerID)
		if !ok {
			return ErrNotInGuild
		}
		if !role.Has(PermDeposit) {
			return apperr.PermissionDenied("missing permission resources.deposit")
		}
		if err := g.adjust(r, amount); err != nil {
			return err
		}
		award := int64(float64(amount) * ContributionRate)
		m.ContributionPoints += award
		m.LastActive = t.now
		g.Stats.TotalContributions += award
		res.Contribution = award
		res.Experience = award
		res.Balance = g.Balance(r)
		if err := t.event(g.ID, EventDeposit, playerID, 0,
			map[string]interface{}{"resource": r.String(), "amount": amount, "contribution": award}); err != nil {
			return err
		}
		res.LevelsGained, res.Unlocked, err = svc.awardExperience(t, g, award)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WithdrawResources removes amount of r from the player's guild treasury.
// Requires resources.withdraw; an insufficient balance leaves the treasury unchanged.
func (svc *Service) WithdrawResources(ctx context.Context, playerID int64, r Resource, amount int64) (res *TreasuryResult, err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.withdraw", playerID, guildID, map[string]interface{}{"resource": r, "amount": amount}, start, err)
	}()

	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	guildID = g.ID

	res = &TreasuryResult{GuildID: guildID, Resource: r, Amount: amount}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if _, role, ok := g.MemberRole(playerID); !ok || !role.Has(PermWithdraw) {
			return apperr.PermissionDenied("missing permission resources.withdraw")
		}
		if err := g.adjust(r, -amount); err != nil {
			return err
		}
		res.Balance = g.Balance(r)
		if err := t.event(g.ID, EventWithdraw, playerID, 0,
			map[string]interface{}{"resource": r.String(), "amount": amount}); err != nil {
			return err
		}
		if r.Type == ResourceCredits {
			t.onCommit(func() { svc.updateLeaderboards(ctx, g) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddExperience awards guild experience outside of deposits, e.g. from missions.
func (svc *Service) AddExperience(ctx context.Context, guildID, xp int64, source string) (levels []int, err error) {
	start := time.Now()
	defer func() {
		svc.record(ctx, "guild.add_experience", 0, guildID, map[string]interface{}{"xp": xp, "source": source}, start, err)
	}()
	if xp <= 0 {
		return nil, apperr.Validation("experience must be positive")
	}
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		var err error
		levels, _, err = svc.awardExperience(t, g, xp)
		return err
	})
	return levels, err
}

// awardExperience applies xp inside t and schedules level-up side effects.
func (svc *Service) awardExperience(t *txn, g *Guild, xp int64) ([]int, []string, error) {
	levels, unlocked := g.addExperience(xp)
	for _, lvl := range levels {
		if err := t.event(g.ID, EventLevelUp, 0, 0, map[string]interface{}{"level": lvl}); err != nil {
			return nil, nil, err
		}
	}
	ctx := t.ctx
	t.onCommit(func() { svc.updateLeaderboards(ctx, g) })
	if len(levels) == 0 {
		return nil, nil, nil
	}
	t.onCommit(func() {
		svc.logger.Info("guild leveled up",
			zap.Int64("guild_id", g.ID),
			zap.Int("level", g.Stats.Level),
			zap.Strings("unlocked", unlocked))
		for i, lvl := range levels {
			ev := &LevelUpEvent{GuildID: g.ID, Level: lvl}
			if i == len(levels)-1 {
				ev.Unlocked = unlocked
			}
			svc.trigger(ctx, hook.OnGuildLevelUp, ev)
		}
		svc.notifyWith(ctx, g, PermViewEvents,
			fmt.Sprintf("[%s] reached level %d", g.Tag, g.Stats.Level), player.KindGuild)
	})
	return levels, unlocked, nil
}

// ActivatePerk buys an unlocked perk with guild credits. Requires perks.activate.
func (svc *Service) ActivatePerk(ctx context.Context, playerID int64, perkID string) (err error) {
	start := time.Now()
	var guildID int64
	defer func() {
		svc.record(ctx, "guild.activate_perk", playerID, guildID, map[string]interface{}{"perk": perkID}, start, err)
	}()

	perk, ok := LookupPerk(perkID)
	if !ok {
		return apperr.Newf(apperr.KindValidation, "unknown perk %q", perkID)
	}
	g, err := svc.registry.GuildOfPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	guildID = g.ID
	_, err = svc.mutateOne(ctx, guildID, func(t *txn, g *Guild) error {
		if _, role, ok := g.MemberRole(playerID); !ok || !role.Has(PermPerks) {
			return apperr.PermissionDenied("missing permission perks.activate")
		}
		if g.Stats.Level < perk.RequiredLevel {
			return apperr.Newf(apperr.KindPerkUnavailable, "%s requires guild level %d", perk.Name, perk.RequiredLevel)
		}
		if g.ActivePerks[perk.ID] {
			return apperr.Conflict("perk already active")
		}
		if err := g.adjust(Resource{Type: ResourceCredits}, -perk.Cost); err != nil {
			return err
		}
		g.ActivePerks[perk.ID] = true
		g.UnlockedPerks[perk.ID] = true
		if err := t.event(g.ID, EventPerkActivated, playerID, 0,
			map[string]interface{}{"perk": perk.ID, "cost": perk.Cost}); err != nil {
			return err
		}
		t.onCommit(func() {
			svc.updateLeaderboards(ctx, g)
			svc.notifyWith(ctx, g, PermViewEvents,
				fmt.Sprintf("[%s] activated %s", g.Tag, perk.Name), player.KindGuild)
		})
		return nil
	})
	return err
}
