package guild

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/model"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"github.com/kasuganosora/socialgov/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentNote struct {
	playerID int64
	message  string
	kind     string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *recordingNotifier) Notify(_ context.Context, playerID int64, message, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{playerID, message, kind})
	return nil
}

func (n *recordingNotifier) to(playerID int64) []sentNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNote
	for _, s := range n.sent {
		if s.playerID == playerID {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	cache    cache.Cache
	notifier *recordingNotifier
	hooks    *hook.Center
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	n := &recordingNotifier{}
	hooks := hook.NewCenter(zap.NewNop())
	reg := NewRegistry(db, zap.NewNop())
	svc := NewService(db, c, reg, player.NewDirectory(db), n, hooks, config.Default().Guild, zap.NewNop())
	return &fixture{svc: svc, db: db, cache: c, notifier: n, hooks: hooks}
}

func (f *fixture) player(t *testing.T, name string, level int) int64 {
	t.Helper()
	return testutil.CreatePlayer(t, f.db, name, level).ID
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func openConfig() Config {
	return Config{MaxMembers: 20, RecruitmentOpen: true}
}

func (f *fixture) create(t *testing.T, founderID int64, name, tag string) *Guild {
	t.Helper()
	g, err := f.svc.CreateGuild(context.Background(), founderID, name, tag, openConfig())
	require.NoError(t, err)
	return g
}

func (f *fixture) join(t *testing.T, guildID int64, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(names))
	for i, name := range names {
		ids[i] = f.player(t, name, 20)
		res, err := f.svc.ApplyToGuild(context.Background(), ids[i], guildID, "")
		require.NoError(t, err)
		require.True(t, res.Joined)
	}
	return ids
}

func (f *fixture) setRole(t *testing.T, founderID, targetID int64, key string) {
	t.Helper()
	require.NoError(t, f.svc.ChangeMemberRole(context.Background(), founderID, targetID, key))
}

func (f *fixture) guild(t *testing.T, id int64) *Guild {
	t.Helper()
	g, err := f.svc.GetGuild(context.Background(), id)
	require.NoError(t, err)
	return g
}

func (f *fixture) roleOf(t *testing.T, guildID, playerID int64) string {
	t.Helper()
	_, r, ok := f.guild(t, guildID).MemberRole(playerID)
	require.True(t, ok, "player %d is not a member", playerID)
	return r.Key
}

func (f *fixture) assertRosterConsistent(t *testing.T, guildID int64) {
	t.Helper()
	g := f.guild(t, guildID)
	assert.Equal(t, len(g.Members), g.Stats.TotalMembers)
	var rows int64
	require.NoError(t, f.db.Model(&model.GuildMember{}).Where("guild_id = ?", guildID).Count(&rows).Error)
	var row model.Guild
	require.NoError(t, f.db.First(&row, guildID).Error)
	assert.Equal(t, int(rows), row.TotalMembers)
	assert.Equal(t, len(g.Members), int(rows))
}

func TestCreateGuild_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)

	_, err := f.svc.CreateGuild(ctx, founder, "AB", "ALPHA", openConfig())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateGuild(ctx, founder, "Alpha Squadron", "A", openConfig())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateGuild(ctx, founder, "Alpha Squadron", "TOOLONG", openConfig())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateGuild(ctx, founder, "Alpha Squadron", "A-1", openConfig())
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rookie := f.player(t, "rookie", 3)
	_, err = f.svc.CreateGuild(ctx, rookie, "Rookies", "RK", openConfig())
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.CreateGuild(ctx, 9999, "Ghosts", "GH", openConfig())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var n int64
	f.db.Model(&model.Guild{}).Count(&n)
	assert.Zero(t, n)
}

func TestCreateGuild_Success(t *testing.T) {
	f := newFixture(t)
	founder := f.player(t, "founder", 20)

	g, err := f.svc.CreateGuild(context.Background(), founder, "Alpha Squadron", "alpha", openConfig())
	require.NoError(t, err)
	assert.Equal(t, "ALPHA", g.Tag)
	assert.Equal(t, founder, g.FounderID)
	assert.Equal(t, 1, g.Stats.Level)
	assert.Equal(t, 1, g.Stats.TotalMembers)
	assert.Equal(t, "general", g.Config.GuildType)

	var roles, members, events int64
	f.db.Model(&model.GuildRole{}).Where("guild_id = ?", g.ID).Count(&roles)
	f.db.Model(&model.GuildMember{}).Where("guild_id = ?", g.ID).Count(&members)
	f.db.Model(&model.GuildEvent{}).Where("guild_id = ? AND kind = ?", g.ID, EventCreated).Count(&events)
	assert.Equal(t, int64(6), roles)
	assert.Equal(t, int64(1), members)
	assert.Equal(t, int64(1), events)
	assert.Equal(t, RoleFounder, f.roleOf(t, g.ID, founder))

	var def model.GuildRole
	require.NoError(t, f.db.Where("guild_id = ? AND is_default = ?", g.ID, true).First(&def).Error)
	assert.Equal(t, RoleMember, def.Key)
}

func TestCreateGuild_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.player(t, "a", 20)
	b := f.player(t, "b", 20)
	f.create(t, a, "Alpha Squadron", "ALPHA")

	_, err := f.svc.CreateGuild(ctx, a, "Second Wind", "SW", openConfig())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.svc.CreateGuild(ctx, b, "alpha squadron", "BETA", openConfig())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.svc.CreateGuild(ctx, b, "Beta Wing", "alpha", openConfig())
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateGuild_HookVeto(t *testing.T) {
	f := newFixture(t)
	founder := f.player(t, "founder", 20)
	f.hooks.Register(hook.BeforeGuildCreate, 0, "deny-all", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data, hook.ErrInterrupt
	})

	_, err := f.svc.CreateGuild(context.Background(), founder, "Alpha Squadron", "ALPHA", openConfig())
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	var n int64
	f.db.Model(&model.Guild{}).Count(&n)
	assert.Zero(t, n)
}

func TestCreateGuild_FiresCreatedHook(t *testing.T) {
	f := newFixture(t)
	var got *Guild
	f.hooks.Register(hook.OnGuildCreated, 0, "spy", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		got = data.(*Guild)
		return data, nil
	})
	g := f.create(t, f.player(t, "founder", 20), "Alpha Squadron", "ALPHA")
	require.NotNil(t, got)
	assert.Equal(t, g.ID, got.ID)
}

func TestApplyToGuild_AutoJoin(t *testing.T) {
	f := newFixture(t)
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	joined := f.player(t, "pilot", 5)

	res, err := f.svc.ApplyToGuild(context.Background(), joined, g.ID, "hi")
	require.NoError(t, err)
	assert.True(t, res.Joined)
	assert.Nil(t, res.Application)
	assert.Equal(t, RoleMember, f.roleOf(t, g.ID, joined))
	assert.Len(t, f.notifier.to(joined), 1)
	f.assertRosterConsistent(t, g.ID)
}

func TestApplyToGuild_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fa := f.player(t, "fa", 20)
	fb := f.player(t, "fb", 20)
	fc := f.player(t, "fc", 20)
	fd := f.player(t, "fd", 20)
	open := f.create(t, fa, "Open Guild", "OPEN")
	closed, err := f.svc.CreateGuild(ctx, fb, "Closed Guild", "SHUT", Config{MaxMembers: 10})
	require.NoError(t, err)
	tiny, err := f.svc.CreateGuild(ctx, fc, "Tiny Guild", "TINY", Config{MaxMembers: 1, RecruitmentOpen: true})
	require.NoError(t, err)
	elite, err := f.svc.CreateGuild(ctx, fd, "Elite Guild", "ELITE", Config{MaxMembers: 10, RecruitmentOpen: true, MinimumLevel: 50})
	require.NoError(t, err)
	pilot := f.player(t, "pilot", 10)

	_, err = f.svc.ApplyToGuild(ctx, fb, open.ID, "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.svc.ApplyToGuild(ctx, pilot, 9999, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.ApplyToGuild(ctx, pilot, closed.ID, "")
	assert.ErrorIs(t, err, apperr.ErrState)
	_, err = f.svc.ApplyToGuild(ctx, pilot, tiny.ID, "")
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
	_, err = f.svc.ApplyToGuild(ctx, pilot, elite.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApplication_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g, err := f.svc.CreateGuild(ctx, founder, "Alpha Squadron", "ALPHA",
		Config{MaxMembers: 10, RecruitmentOpen: true, RequiresApplication: true})
	require.NoError(t, err)

	m := f.player(t, "member", 10)
	res, err := f.svc.ApplyToGuild(ctx, m, g.ID, "let me in")
	require.NoError(t, err)
	require.False(t, res.Joined)
	require.NotNil(t, res.Application)
	assert.Equal(t, model.ApplicationPending, res.Application.Status)
	assert.NotEmpty(t, f.notifier.to(founder))

	_, err = f.svc.ApplyToGuild(ctx, m, g.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	pending, err := f.svc.ListApplications(ctx, founder, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	app, err := f.svc.ProcessApplication(ctx, res.Application.ID, true, founder)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationAccepted, app.Status)
	assert.Equal(t, RoleMember, f.roleOf(t, g.ID, m))

	_, err = f.svc.ProcessApplication(ctx, res.Application.ID, true, founder)
	assert.ErrorIs(t, err, apperr.ErrState)
	_, err = f.svc.ProcessApplication(ctx, 9999, true, founder)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p := f.player(t, "pilot", 10)
	res, err = f.svc.ApplyToGuild(ctx, p, g.ID, "")
	require.NoError(t, err)

	_, err = f.svc.ProcessApplication(ctx, res.Application.ID, true, m)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	_, err = f.svc.ListApplications(ctx, m, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	app, err = f.svc.ProcessApplication(ctx, res.Application.ID, false, founder)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationRejected, app.Status)
	notes := f.notifier.to(p)
	require.Len(t, notes, 1)
	assert.Equal(t, player.KindApplication, notes[0].kind)

	gid, err := f.svc.Registry().GuildOf(ctx, p)
	require.NoError(t, err)
	assert.Zero(t, gid)
	f.assertRosterConsistent(t, g.ID)
}

func TestLeaveGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "m1")

	assert.ErrorIs(t, f.svc.LeaveGuild(ctx, founder), apperr.ErrState)
	assert.ErrorIs(t, f.svc.LeaveGuild(ctx, f.player(t, "loner", 5)), ErrNotInGuild)

	require.NoError(t, f.svc.LeaveGuild(ctx, ids[0]))
	gid, err := f.svc.Registry().GuildOf(ctx, ids[0])
	require.NoError(t, err)
	assert.Zero(t, gid)
	assert.Equal(t, 1, f.guild(t, g.ID).Stats.TotalMembers)
	f.assertRosterConsistent(t, g.ID)
}

func TestKickMember_Hierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "o1", "o2", "m1", "m2", "l1")
	o1, o2, m1, m2, l1 := ids[0], ids[1], ids[2], ids[3], ids[4]
	f.setRole(t, founder, o1, RoleOfficer)
	f.setRole(t, founder, o2, RoleOfficer)
	f.setRole(t, founder, l1, RoleLeader)

	assert.ErrorIs(t, f.svc.KickMember(ctx, o1, o1, ""), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.KickMember(ctx, o1, o2, ""), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.KickMember(ctx, o1, l1, ""), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.KickMember(ctx, m1, m2, ""), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.KickMember(ctx, o1, founder, ""), apperr.ErrState)
	assert.ErrorIs(t, f.svc.KickMember(ctx, l1, founder, ""), apperr.ErrState)

	require.NoError(t, f.svc.KickMember(ctx, o1, m1, "inactive"))
	notes := f.notifier.to(m1)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[len(notes)-1].message, "inactive")

	require.NoError(t, f.svc.KickMember(ctx, founder, l1, ""))
	require.NoError(t, f.svc.KickMember(ctx, founder, o2, ""))

	g = f.guild(t, g.ID)
	assert.NotContains(t, g.Members, m1)
	assert.NotContains(t, g.Members, l1)
	assert.Contains(t, g.Members, m2)
	f.assertRosterConsistent(t, g.ID)
}

func TestChangeMemberRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "o1", "m1", "m2", "l1", "l2", "l3")
	o1, m1, m2, l1, l2, l3 := ids[0], ids[1], ids[2], ids[3], ids[4], ids[5]

	f.setRole(t, founder, o1, RoleOfficer)
	require.NoError(t, f.svc.ChangeMemberRole(ctx, o1, m1, RoleVeteran))
	assert.Equal(t, RoleVeteran, f.roleOf(t, g.ID, m1))
	require.NoError(t, f.svc.ChangeMemberRole(ctx, o1, m1, RoleRecruit))
	assert.Equal(t, RoleRecruit, f.roleOf(t, g.ID, m1))

	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, o1, m2, RoleOfficer), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, m2, m1, RoleMember), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, o1, m2, RoleMember), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, o1, m2, "admiral"), apperr.ErrNotFound)
	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, o1, founder, RoleRecruit), apperr.ErrState)

	f.setRole(t, founder, l1, RoleLeader)
	f.setRole(t, founder, l2, RoleLeader)
	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, founder, l3, RoleLeader), apperr.ErrCapacityExceeded)

	assert.ErrorIs(t, f.svc.ChangeMemberRole(ctx, o1, m2, RoleFounder), apperr.ErrPermissionDenied)
	assert.Equal(t, founder, f.guild(t, g.ID).FounderID)
}

func TestTransferFoundership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "heir", "other")
	heir, other := ids[0], ids[1]
	outsider := f.player(t, "outsider", 20)

	assert.ErrorIs(t, f.svc.TransferFoundership(ctx, g.ID, other, heir), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.TransferFoundership(ctx, g.ID, founder, outsider), apperr.ErrNotFound)

	require.NoError(t, f.svc.ChangeMemberRole(ctx, founder, heir, RoleFounder))
	g = f.guild(t, g.ID)
	assert.Equal(t, heir, g.FounderID)
	assert.Equal(t, RoleFounder, f.roleOf(t, g.ID, heir))
	assert.Equal(t, RoleLeader, f.roleOf(t, g.ID, founder))
	assert.NoError(t, g.CheckInvariants())

	var row model.Guild
	require.NoError(t, f.db.First(&row, g.ID).Error)
	assert.Equal(t, heir, row.FounderID)

	require.NoError(t, f.svc.LeaveGuild(ctx, founder))
	assert.ErrorIs(t, f.svc.LeaveGuild(ctx, heir), apperr.ErrState)
}

func TestTransferFoundership_LeaderSeatsFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "l1", "l2", "m1")
	f.setRole(t, founder, ids[0], RoleLeader)
	f.setRole(t, founder, ids[1], RoleLeader)

	assert.ErrorIs(t, f.svc.TransferFoundership(ctx, g.ID, founder, ids[2]), apperr.ErrCapacityExceeded)
	assert.Equal(t, founder, f.guild(t, g.ID).FounderID)

	require.NoError(t, f.svc.TransferFoundership(ctx, g.ID, founder, ids[0]))
	assert.Equal(t, RoleLeader, f.roleOf(t, g.ID, founder))
	assert.Equal(t, RoleFounder, f.roleOf(t, g.ID, ids[0]))
}

func TestDisbandGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "m1")
	otherFounder := f.player(t, "other", 20)
	other := f.create(t, otherFounder, "Beta Wing", "BETA")
	require.NoError(t, f.svc.SetGuildRelation(ctx, founder, other.ID, RelationAlly))

	assert.ErrorIs(t, f.svc.DisbandGuild(ctx, ids[0], DisbandToken("ALPHA")), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.DisbandGuild(ctx, founder, "DISBAND_alpha"), apperr.ErrState)
	assert.ErrorIs(t, f.svc.DisbandGuild(ctx, founder, "yes"), apperr.ErrState)

	require.NoError(t, f.svc.DisbandGuild(ctx, founder, "DISBAND_ALPHA"))

	_, err := f.svc.GetGuild(ctx, g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	var row model.Guild
	require.NoError(t, f.db.First(&row, g.ID).Error)
	assert.False(t, row.IsActive)
	assert.NotNil(t, row.DisbandedAt)

	var members, rels int64
	f.db.Model(&model.GuildMember{}).Where("guild_id = ?", g.ID).Count(&members)
	f.db.Model(&model.GuildRelation{}).Count(&rels)
	assert.Zero(t, members)
	assert.Zero(t, rels)

	for _, pid := range []int64{founder, ids[0]} {
		gid, err := f.svc.Registry().GuildOf(ctx, pid)
		require.NoError(t, err)
		assert.Zero(t, gid)
		assert.NotEmpty(t, f.notifier.to(pid))
	}
	assert.Equal(t, RelationNone, f.guild(t, other.ID).Relation(g.ID))
	rel, err := f.svc.GetDiplomaticRelation(ctx, other.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, rel)

	res, err := f.svc.ApplyToGuild(ctx, ids[0], other.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Joined)
}

func TestRosterInvariant_AcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")

	ids := f.join(t, g.ID, "a", "b", "c", "d", "e")
	f.assertRosterConsistent(t, g.ID)
	require.NoError(t, f.svc.KickMember(ctx, founder, ids[0], ""))
	f.assertRosterConsistent(t, g.ID)
	require.NoError(t, f.svc.LeaveGuild(ctx, ids[1]))
	f.assertRosterConsistent(t, g.ID)
	_, err := f.svc.ApplyToGuild(ctx, ids[0], g.ID, "")
	require.NoError(t, err)
	f.assertRosterConsistent(t, g.ID)
	assert.Equal(t, 5, f.guild(t, g.ID).Stats.TotalMembers)
}

func TestRegistry_FillKeepsNewerSnapshot(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	stale := testGuild()
	stale.ID = 7

	// A writer publishes while a read-through load is in flight.
	gen := reg.gen[7]
	newer := stale.Clone()
	newer.Stats.Experience = 500
	reg.put(newer)

	got := reg.fill(stale, gen)
	assert.Same(t, newer, got)
	assert.Same(t, newer, reg.guilds[7])

	// An eviction during the load leaves the registry empty.
	reg.evict(7)
	gen = reg.gen[7] - 1
	got = reg.fill(stale, gen)
	assert.Same(t, stale, got)
	_, cached := reg.guilds[7]
	assert.False(t, cached)

	// A quiet load is cached.
	got = reg.fill(stale, reg.gen[7])
	assert.Same(t, stale, reg.guilds[7])
	assert.Same(t, stale, got)
}

func TestRegistry_ReloadMatchesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "o1", "m1")
	f.setRole(t, founder, ids[0], RoleOfficer)
	other := f.create(t, f.player(t, "other", 20), "Beta Wing", "BETA")
	require.NoError(t, f.svc.SetGuildRelation(ctx, founder, other.ID, RelationEnemy))
	_, err := f.svc.DepositResources(ctx, ids[1], Resource{Type: ResourceOre, SubType: "iron"}, 40)
	require.NoError(t, err)

	fresh := NewRegistry(f.db, zap.NewNop())
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 2, fresh.Count())

	want := f.guild(t, g.ID)
	got, err := fresh.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, want.Resources, got.Resources)
	assert.Equal(t, want.Relations, got.Relations)
	assert.Len(t, got.Roles, 6)
	assert.Len(t, got.Members, 3)
	_, r, ok := got.MemberRole(ids[0])
	require.True(t, ok)
	assert.Equal(t, RoleOfficer, r.Key)
	assert.NoError(t, got.CheckInvariants())

	gid, err := fresh.GuildOf(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, g.ID, gid)
}

func TestMutate_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")

	ok, err := f.cache.SetNX(ctx, "lock:guild:"+itoa(g.ID), "other-node", 0)
	require.NoError(t, err)
	require.True(t, ok)

	f.svc.cfg.LeaseWait = 30 * time.Millisecond
	_, err = f.svc.DepositResources(ctx, founder, Resource{Type: ResourceCredits}, 100)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Zero(t, f.guild(t, g.ID).Resources.Credits)

	v, err := f.cache.Get(ctx, "lock:guild:"+itoa(g.ID))
	require.NoError(t, err)
	assert.Equal(t, "other-node", v, "a failed writer must not drop the holder's lease")
}

func TestMutate_WaitsForLeaseRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")

	key := "lock:guild:" + itoa(g.ID)
	ok, err := f.cache.SetNX(ctx, key, "other-node", 0)
	require.NoError(t, err)
	require.True(t, ok)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = f.cache.DelIfValue(ctx, key, "other-node")
	}()

	_, err = f.svc.DepositResources(ctx, founder, Resource{Type: ResourceCredits}, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 100, f.guild(t, g.ID).Resources.Credits)
}

func TestUpdateGuildConfigAndTerritory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	founder := f.player(t, "founder", 20)
	g := f.create(t, founder, "Alpha Squadron", "ALPHA")
	ids := f.join(t, g.ID, "m1")
	otherFounder := f.player(t, "other", 20)
	f.create(t, otherFounder, "Beta Wing", "BETA")

	closed := false
	desc := "Deep space haulers"
	_, err := f.svc.UpdateGuildConfig(ctx, ids[0], ConfigPatch{RecruitmentOpen: &closed})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	tooSmall := 1
	_, err = f.svc.UpdateGuildConfig(ctx, founder, ConfigPatch{MaxMembers: &tooSmall})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	updated, err := f.svc.UpdateGuildConfig(ctx, founder, ConfigPatch{RecruitmentOpen: &closed, Description: &desc})
	require.NoError(t, err)
	assert.False(t, updated.Config.RecruitmentOpen)
	assert.Equal(t, desc, updated.Description)
	_, err = f.svc.ApplyToGuild(ctx, f.player(t, "late", 20), g.ID, "")
	assert.ErrorIs(t, err, apperr.ErrState)

	require.NoError(t, f.svc.ClaimTerritory(ctx, founder, "sol-3"))
	assert.ErrorIs(t, f.svc.ClaimTerritory(ctx, founder, "sol-3"), apperr.ErrConflict)
	assert.ErrorIs(t, f.svc.ClaimTerritory(ctx, otherFounder, "sol-3"), apperr.ErrConflict)
	assert.ErrorIs(t, f.svc.ClaimTerritory(ctx, ids[0], "sol-4"), apperr.ErrPermissionDenied)
	assert.True(t, f.guild(t, g.ID).Territories["sol-3"])

	require.NoError(t, f.svc.ReleaseTerritory(ctx, founder, "sol-3"))
	assert.ErrorIs(t, f.svc.ReleaseTerritory(ctx, founder, "sol-3"), apperr.ErrNotFound)
	require.NoError(t, f.svc.ClaimTerritory(ctx, otherFounder, "sol-3"))
}
