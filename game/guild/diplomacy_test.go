package guild

import (
	"context"
	"testing"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGuildRelation_Symmetric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fa := f.player(t, "fa", 20)
	fb := f.player(t, "fb", 20)
	a := f.create(t, fa, "Alpha Squadron", "ALPHA")
	b := f.create(t, fb, "Beta Wing", "BETA")

	require.NoError(t, f.svc.SetGuildRelation(ctx, fa, b.ID, RelationEnemy))
	ab, err := f.svc.GetDiplomaticRelation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	ba, err := f.svc.GetDiplomaticRelation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationEnemy, ab)
	assert.Equal(t, RelationEnemy, ba)

	var rows []model.GuildRelation
	require.NoError(t, f.db.Order("guild_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, a.ID, rows[0].GuildID)
	assert.Equal(t, b.ID, rows[0].TargetGuildID)
	assert.Equal(t, "ENEMY", rows[1].Kind)

	notes := f.notifier.to(fb)
	require.NotEmpty(t, notes)
	assert.Equal(t, player.KindDiplomacy, notes[len(notes)-1].kind)

	require.NoError(t, f.svc.SetGuildRelation(ctx, fb, a.ID, RelationAlly))
	va, vb := f.guild(t, a.ID).View(), f.guild(t, b.ID).View()
	assert.Equal(t, []int64{b.ID}, va.Allies)
	assert.Empty(t, va.Enemies)
	assert.Equal(t, []int64{a.ID}, vb.Allies)
	assert.Empty(t, vb.Enemies)

	require.NoError(t, f.svc.SetGuildRelation(ctx, fa, b.ID, RelationNone))
	ab, err = f.svc.GetDiplomaticRelation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, ab)
	var n int64
	f.db.Model(&model.GuildRelation{}).Count(&n)
	assert.Zero(t, n)
}

func TestSetGuildRelation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fa := f.player(t, "fa", 20)
	a := f.create(t, fa, "Alpha Squadron", "ALPHA")
	b := f.create(t, f.player(t, "fb", 20), "Beta Wing", "BETA")
	m := f.join(t, a.ID, "m1")[0]

	assert.ErrorIs(t, f.svc.SetGuildRelation(ctx, fa, a.ID, RelationAlly), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.SetGuildRelation(ctx, fa, b.ID, "FRIEND"), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.SetGuildRelation(ctx, fa, 9999, RelationAlly), apperr.ErrNotFound)
	assert.ErrorIs(t, f.svc.SetGuildRelation(ctx, m, b.ID, RelationAlly), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.SetGuildRelation(ctx, f.player(t, "loner", 5), b.ID, RelationAlly), apperr.ErrNotFound)

	rel, err := f.svc.GetDiplomaticRelation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, rel)
	rel, err = f.svc.GetDiplomaticRelation(ctx, 9999, a.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, rel)
}
