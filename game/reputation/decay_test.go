package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDecay_SkipsWithinGraceWindow(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	ctx := context.Background()

	_, err := f.engine.ApplyAction(ctx, 1, "solo", ActionDiplomaticMission, ActionContext{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := f.engine.RunDecay(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Scanned)
		assert.Zero(t, report.Decayed)
	}
	assert.InDelta(t, 10, f.value(t, 1, "solo"), 1e-9)
}

func TestRunDecay_StepsTowardZero(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old := time.Now().Add(-8 * 24 * time.Hour)

	pos := f.seed(t, 1, "traders_union", 50, old)
	f.seed(t, 1, "void_corsairs", -80, old)
	f.seed(t, 1, "stellar_navy", 100, old)
	f.seed(t, 1, "mining_consortium", 0, old)
	f.seed(t, 2, "traders_union", 40, time.Now())

	report, err := f.engine.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Decayed)
	assert.Zero(t, report.Failed)

	assert.InDelta(t, 49.5, f.value(t, 1, "traders_union"), 1e-9)
	assert.InDelta(t, -79.2, f.value(t, 1, "void_corsairs"), 1e-9)
	assert.InDelta(t, 99, f.value(t, 1, "stellar_navy"), 1e-9)
	assert.Zero(t, f.value(t, 1, "mining_consortium"))
	assert.InDelta(t, 40, f.value(t, 2, "traders_union"), 1e-9)

	var rec model.ReputationRecord
	require.NoError(t, f.db.First(&rec, pos.ID).Error)
	assert.WithinDuration(t, old, rec.LastUpdatedAt, time.Second, "decay must not reset the grace window")

	var events []model.ReputationEvent
	require.NoError(t, f.db.Where("player_id = ? AND faction_id = ?", 1, "traders_union").Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, ActionDecay, events[0].ActionCode)
	assert.InDelta(t, -0.5, events[0].Delta, 1e-9)

	// Still idle, so a second sweep keeps decaying.
	_, err = f.engine.RunDecay(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 49.005, f.value(t, 1, "traders_union"), 1e-9)
}

func TestRunDecay_TierCrossingCounted(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	f.seed(t, 1, "solo", 25, time.Now().Add(-30*24*time.Hour))

	report, err := f.engine.RunDecay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitions)
	assert.InDelta(t, 24.75, f.value(t, 1, "solo"), 1e-9)
	assert.Equal(t, TierNeutral, ResolveStanding(f.value(t, 1, "solo")).Tier)
}

func TestRunDecay_IgnoresWriteLease(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	ctx := context.Background()
	f.seed(t, 1, "solo", 60, time.Now().Add(-10*24*time.Hour))

	ok, err := f.cache.SetNX(ctx, "lock:rep:1", "busy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.engine.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)
	assert.InDelta(t, 59.4, f.value(t, 1, "solo"), 1e-9)

	v, err := f.cache.Get(ctx, "lock:rep:1")
	require.NoError(t, err)
	assert.Equal(t, "busy", v)
}

func TestRunDecay_ZeroGraceDecaysFreshRecords(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t), func(c *config.ReputationConfig) { c.DecayGrace = 0 })
	ctx := context.Background()

	_, err := f.engine.ApplyAction(ctx, 1, "solo", ActionDiplomaticMission, ActionContext{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	report, err := f.engine.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)
	assert.InDelta(t, 9.9, f.value(t, 1, "solo"), 1e-9)
}

func TestDecayRecord_ValueChangedSinceRead(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	rec := f.seed(t, 1, "solo", 60, cutoff.Add(-time.Hour))

	stale := *rec
	stale.Value = 55
	ok, err := writeDecayedValue(f.db, &stale, 54.45, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, 60, f.value(t, 1, "solo"), 1e-9)

	ok, err = writeDecayedValue(f.db, rec, 59.4, cutoff)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 59.4, f.value(t, 1, "solo"), 1e-9)
}

func TestDecayRecord_InteractiveWriteWins(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	ctx := context.Background()
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	rec := f.seed(t, 1, "solo", 60, cutoff.Add(-time.Hour))

	// An interactive update lands after the sweep scanned the record.
	_, err := f.engine.ApplyAction(ctx, 1, "solo", ActionTradeCompleted, ActionContext{})
	require.NoError(t, err)

	_, err = f.engine.decayRecord(ctx, rec.ID, cutoff)
	assert.ErrorIs(t, err, errDecaySkip)
	assert.InDelta(t, 61.6, f.value(t, 1, "solo"), 1e-9)
}

func TestRunDecay_UsesConfiguredRate(t *testing.T) {
	f := newFixture(t, isolatedCatalog(t))
	f.engine.cfg.DecayRate = 0.2
	f.seed(t, 1, "solo", 90, time.Now().Add(-8*24*time.Hour))

	_, err := f.engine.RunDecay(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 89.8, f.value(t, 1, "solo"), 1e-9)
}
