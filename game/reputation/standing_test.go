package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStanding_Thresholds(t *testing.T) {
	cases := []struct {
		value float64
		want  Tier
	}{
		{-150, TierHostile},
		{-100, TierHostile},
		{-75.1, TierHostile},
		{-75, TierUnfriendly},
		{-25.1, TierUnfriendly},
		{-25, TierNeutral},
		{0, TierNeutral},
		{24.9, TierNeutral},
		{25, TierFriendly},
		{61.6, TierFriendly},
		{74.9, TierFriendly},
		{75, TierAllied},
		{100, TierAllied},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveStanding(tc.value).Tier, "value %.1f", tc.value)
	}
}

func TestResolveStanding_Pure(t *testing.T) {
	for v := -100.0; v <= 100; v += 0.5 {
		a, b := ResolveStanding(v), ResolveStanding(v)
		require.Equal(t, a, b)
		require.GreaterOrEqual(t, a.Tier.Rank(), 0)
	}
}

func TestEffects_Permits(t *testing.T) {
	hostile := ResolveStanding(-100).Effects
	assert.False(t, hostile.Permits(InteractTrade))
	assert.False(t, hostile.Permits(InteractEnterTerritory))
	assert.True(t, hostile.Permits("DOCK_REPAIR"), "unknown kinds are permitted")

	neutral := ResolveStanding(0).Effects
	assert.True(t, neutral.Permits(InteractTrade))
	assert.True(t, neutral.Permits(InteractContracts))
	assert.False(t, neutral.Permits(InteractSpecialServices))
	assert.False(t, neutral.Permits(InteractRequestEscort))

	allied := ResolveStanding(80).Effects
	assert.True(t, allied.DiplomaticImmunity)
	assert.True(t, allied.Permits(InteractRequestEscort))
	assert.Equal(t, TerritoryUnrestricted, allied.TerritoryAccess)
}

func TestTier_RankAndThreshold(t *testing.T) {
	assert.Equal(t, []Tier{TierHostile, TierUnfriendly, TierNeutral, TierFriendly, TierAllied}, Tiers())
	assert.Less(t, TierHostile.Rank(), TierAllied.Rank())
	assert.Equal(t, 25.0, TierFriendly.Threshold())
	assert.Equal(t, -1, Tier("BOGUS").Rank())
}

func TestResolveConsequences(t *testing.T) {
	assert.Equal(t, []ConsequenceKind{ConsequenceUnlockSpecialServices}, ResolveConsequences(TierNeutral, TierFriendly))
	assert.Equal(t, []ConsequenceKind{ConsequenceDiplomaticImmunity, ConsequenceMaximumDiscount}, ResolveConsequences(TierFriendly, TierAllied))
	assert.Equal(t, []ConsequenceKind{ConsequenceDeclareHostile}, ResolveConsequences(TierAllied, TierHostile))
	assert.Equal(t, []ConsequenceKind{ConsequenceRevokeTradePrivileges}, ResolveConsequences(TierNeutral, TierUnfriendly))
	assert.Empty(t, ResolveConsequences(TierAllied, TierFriendly))
	assert.Empty(t, ResolveConsequences(TierHostile, TierUnfriendly))
	assert.Empty(t, ResolveConsequences(TierNeutral, TierNeutral))
}

func TestDiminish(t *testing.T) {
	assert.InDelta(t, 1.6, Diminish(2, 60), 1e-9)
	assert.Less(t, Diminish(2, 90), Diminish(2, 0))
	assert.InDelta(t, -2, Diminish(-2, 60), 1e-9, "opposite sign is not diminished")
	assert.InDelta(t, -0.8, Diminish(-2, -80), 1e-9)
}

func TestRawDelta(t *testing.T) {
	assert.InDelta(t, 2, RawDelta(2, ActionContext{}), 1e-9)
	assert.InDelta(t, 6, RawDelta(2, ActionContext{Multiplier: 1.5, FactionModifier: 2}), 1e-9)
	// value 10000 → 1 + 0.2·log10(100) = 1.4
	assert.InDelta(t, 2.8, RawDelta(2, ActionContext{Value: 10000}), 1e-9)
	assert.InDelta(t, 2, RawDelta(2, ActionContext{Value: 50}), 1e-9)
}

func TestSecondaryDelta(t *testing.T) {
	ally := Relation{Kind: RelationAllied, Strength: 1}
	enemy := Relation{Kind: RelationEnemy, Strength: 0.5}
	neutral := Relation{Kind: RelationNeutral, Strength: 1}

	assert.InDelta(t, 3, SecondaryDelta(10, ally), 1e-9)
	assert.InDelta(t, -1, SecondaryDelta(-10, ally), 1e-9)
	assert.InDelta(t, -1, SecondaryDelta(10, enemy), 1e-9)
	assert.InDelta(t, 2.5, SecondaryDelta(-10, enemy), 1e-9, "harming a faction helps its enemies")
	assert.Zero(t, SecondaryDelta(10, neutral))
}

func TestDecayStep(t *testing.T) {
	assert.InDelta(t, -0.5, DecayStep(50, 1), 1e-9)
	assert.InDelta(t, -1, DecayStep(100, 1), 1e-9)
	assert.InDelta(t, 0.8, DecayStep(-80, 1), 1e-9)
	assert.InDelta(t, -0.25, DecayStep(100, 0.25), 1e-9)
}

func TestCatalog_Validation(t *testing.T) {
	factions := []Faction{{ID: "a"}, {ID: "b"}}
	_, err := NewCatalog(factions, nil, []Relation{{From: "a", To: "zzz", Kind: RelationAllied, Strength: 1}})
	assert.Error(t, err)
	_, err = NewCatalog(factions, nil, []Relation{{From: "a", To: "b", Kind: "FRENEMY", Strength: 1}})
	assert.Error(t, err)
	_, err = NewCatalog(factions, nil, []Relation{{From: "a", To: "b", Kind: RelationEnemy, Strength: 1.5}})
	assert.Error(t, err)
	_, err = NewCatalog(factions, []Action{{Code: ActionDecay}}, nil)
	assert.Error(t, err)

	c, err := NewCatalog(factions, nil, []Relation{{From: "a", To: "b", Kind: RelationEnemy, Strength: 1}})
	require.NoError(t, err)
	assert.Len(t, c.Relations("a"), 1)
	assert.Empty(t, c.Relations("b"), "edges are not mirrored")
}

func TestCatalog_WithRelations(t *testing.T) {
	base := DefaultCatalog()
	c, err := base.WithRelations([]Relation{{From: "traders_union", To: "void_corsairs", Kind: RelationEnemy, Strength: 0.2}})
	require.NoError(t, err)
	assert.Len(t, c.Relations("traders_union"), 1)
	assert.Empty(t, c.Relations("stellar_navy"))
	assert.Len(t, c.Factions(), len(base.Factions()))
	assert.Len(t, c.Actions(), len(base.Actions()))
}
