// Package guild implements guild governance: roster, role hierarchy,
// treasury, leveling, perks, territory and diplomacy.
package guild

import (
	"fmt"
	"sort"
	"time"

	"github.com/kasuganosora/socialgov/apperr"
)

// ErrNotInGuild is returned when an operation needs the caller's guild and
// the caller has none.
var ErrNotInGuild = apperr.NotFound("player is not in a guild")

// Name and tag limits.
const (
	MinNameLen = 3
	MaxNameLen = 50
	MinTagLen  = 2
	MaxTagLen  = 5
)

// ResourceType names a treasury balance.
type ResourceType string

const (
	ResourceCredits    ResourceType = "credits"
	ResourceOre        ResourceType = "ore"
	ResourceReputation ResourceType = "reputation"
	ResourceInfluence  ResourceType = "influence"
	ResourceResearch   ResourceType = "research_points"
)

// Resource identifies one balance. SubType is the ore kind for ResourceOre.
type Resource struct {
	Type    ResourceType `json:"type"`
	SubType string       `json:"sub_type,omitempty"`
}

func (r Resource) String() string {
	if r.SubType != "" {
		return string(r.Type) + ":" + r.SubType
	}
	return string(r.Type)
}

func (r Resource) validate() error {
	switch r.Type {
	case ResourceOre:
		if r.SubType == "" {
			return apperr.Validation("ore deposits need an ore type")
		}
	case ResourceCredits, ResourceReputation, ResourceInfluence, ResourceResearch:
		if r.SubType != "" {
			return apperr.Newf(apperr.KindValidation, "%s has no sub-types", r.Type)
		}
	default:
		return apperr.Newf(apperr.KindValidation, "unknown resource type %q", r.Type)
	}
	return nil
}

// RelationKind is the diplomatic stance between two guilds.
type RelationKind string

const (
	RelationAlly    RelationKind = "ALLY"
	RelationEnemy   RelationKind = "ENEMY"
	RelationNeutral RelationKind = "NEUTRAL"
	RelationNone    RelationKind = "NONE"
)

func (k RelationKind) valid() bool {
	switch k {
	case RelationAlly, RelationEnemy, RelationNeutral, RelationNone:
		return true
	}
	return false
}

// Config holds the settings a founder chooses.
type Config struct {
	MaxMembers          int    `json:"max_members"`
	RecruitmentOpen     bool   `json:"recruitment_open"`
	RequiresApplication bool   `json:"requires_application"`
	MinimumLevel        int    `json:"minimum_level"`
	GuildType           string `json:"guild_type"`
}

// Resources is the guild treasury.
type Resources struct {
	Credits        int64            `json:"credits"`
	Ores           map[string]int64 `json:"ores"`
	Reputation     int64            `json:"reputation"`
	Influence      int64            `json:"influence"`
	ResearchPoints int64            `json:"research_points"`
}

// Stats are derived counters and leveling progress.
type Stats struct {
	TotalMembers       int   `json:"total_members"`
	ActiveMembers      int   `json:"active_members"`
	Level              int   `json:"level"`
	Experience         int64 `json:"experience"`
	TotalContributions int64 `json:"total_contributions"`
}

// Member is one roster entry.
type Member struct {
	PlayerID           int64     `json:"player_id"`
	RoleID             int64     `json:"role_id"`
	JoinedAt           time.Time `json:"joined_at"`
	ContributionPoints int64     `json:"contribution_points"`
	LastActive         time.Time `json:"last_active"`
}

// Guild is the in-memory aggregate. Instances held by the Registry are
// treated as immutable; mutations work on a Clone.
type Guild struct {
	ID          int64
	Name        string
	Tag         string
	Description string
	FounderID   int64
	FoundedAt   time.Time
	Config      Config
	Resources   Resources
	Stats       Stats
	IsActive    bool

	Territories   map[string]bool
	Relations     map[int64]RelationKind
	ActivePerks   map[string]bool
	UnlockedPerks map[string]bool

	Roles   map[int64]*Role
	Members map[int64]*Member
}

// activeWindow is how recently a member must have been seen to count as active.
const activeWindow = 7 * 24 * time.Hour

// Clone returns a deep copy.
func (g *Guild) Clone() *Guild {
	c := *g
	c.Resources.Ores = make(map[string]int64, len(g.Resources.Ores))
	for k, v := range g.Resources.Ores {
		c.Resources.Ores[k] = v
	}
	c.Territories = cloneSet(g.Territories)
	c.ActivePerks = cloneSet(g.ActivePerks)
	c.UnlockedPerks = cloneSet(g.UnlockedPerks)
	c.Relations = make(map[int64]RelationKind, len(g.Relations))
	for k, v := range g.Relations {
		c.Relations[k] = v
	}
	c.Roles = make(map[int64]*Role, len(g.Roles))
	for id, r := range g.Roles {
		rc := *r
		rc.Permissions = append([]Permission(nil), r.Permissions...)
		c.Roles[id] = &rc
	}
	c.Members = make(map[int64]*Member, len(g.Members))
	for id, m := range g.Members {
		mc := *m
		c.Members[id] = &mc
	}
	return &c
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		if v {
			out[k] = true
		}
	}
	return out
}

func sortedKeys(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k, v := range s {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// RoleByKey finds a role by its key.
func (g *Guild) RoleByKey(key string) (*Role, bool) {
	for _, r := range g.Roles {
		if r.Key == key {
			return r, true
		}
	}
	return nil, false
}

// DefaultRole returns the role new members receive.
func (g *Guild) DefaultRole() *Role {
	for _, r := range g.Roles {
		if r.IsDefault {
			return r
		}
	}
	return nil
}

// SortedRoles returns roles highest authority first.
func (g *Guild) SortedRoles() []*Role {
	out := make([]*Role, 0, len(g.Roles))
	for _, r := range g.Roles {
		out = append(out, r)
	}
	sortRoles(out)
	return out
}

// MemberRole returns the member and their role.
func (g *Guild) MemberRole(playerID int64) (*Member, *Role, bool) {
	m, ok := g.Members[playerID]
	if !ok {
		return nil, nil, false
	}
	r, ok := g.Roles[m.RoleID]
	if !ok {
		return nil, nil, false
	}
	return m, r, true
}

// IsFounder reports whether playerID founded the guild.
func (g *Guild) IsFounder(playerID int64) bool {
	return g.FounderID == playerID
}

// Capacity is the member cap including perk bonuses.
func (g *Guild) Capacity() int {
	c := g.Config.MaxMembers
	if g.ActivePerks[PerkExpandedRoster] {
		c += ExpandedRosterBonus
	}
	return c
}

// IsFull reports whether no member can be added.
func (g *Guild) IsFull() bool {
	return len(g.Members) >= g.Capacity()
}

func (g *Guild) roleCount(roleID int64) int {
	n := 0
	for _, m := range g.Members {
		if m.RoleID == roleID {
			n++
		}
	}
	return n
}

func (g *Guild) roleHasRoom(r *Role) bool {
	return r.MaxMembers == Unlimited || g.roleCount(r.ID) < r.MaxMembers
}

// addMember enforces guild and role capacity.
func (g *Guild) addMember(m *Member) error {
	if _, ok := g.Members[m.PlayerID]; ok {
		return apperr.Conflict("player is already a member")
	}
	if g.IsFull() {
		return apperr.CapacityExceeded("guild is at capacity")
	}
	r, ok := g.Roles[m.RoleID]
	if !ok {
		return apperr.NotFound("role not found")
	}
	if !g.roleHasRoom(r) {
		return apperr.Newf(apperr.KindCapacityExceeded, "role %s is full", r.Key)
	}
	g.Members[m.PlayerID] = m
	g.recount(m.JoinedAt)
	return nil
}

func (g *Guild) removeMember(playerID int64, now time.Time) {
	delete(g.Members, playerID)
	g.recount(now)
}

func (g *Guild) setRole(playerID int64, r *Role) error {
	m, ok := g.Members[playerID]
	if !ok {
		return apperr.NotFound("member not found")
	}
	if m.RoleID == r.ID {
		return nil
	}
	if !g.roleHasRoom(r) {
		return apperr.Newf(apperr.KindCapacityExceeded, "role %s is full", r.Key)
	}
	m.RoleID = r.ID
	return nil
}

// recount keeps the member counters in line with the roster.
func (g *Guild) recount(now time.Time) {
	g.Stats.TotalMembers = len(g.Members)
	active := 0
	for _, m := range g.Members {
		if now.Sub(m.LastActive) <= activeWindow {
			active++
		}
	}
	g.Stats.ActiveMembers = active
}

// Relation returns the stance toward another guild.
func (g *Guild) Relation(other int64) RelationKind {
	if k, ok := g.Relations[other]; ok {
		return k
	}
	return RelationNone
}

// setRelation replaces any previous stance; the three kinds are exclusive per target.
func (g *Guild) setRelation(other int64, kind RelationKind) {
	delete(g.Relations, other)
	if kind != RelationNone {
		g.Relations[other] = kind
	}
}

// RelationSet returns the ids holding the given stance, ascending.
func (g *Guild) RelationSet(kind RelationKind) []int64 {
	var out []int64
	for id, k := range g.Relations {
		if k == kind {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Balance returns the current balance of r.
func (g *Guild) Balance(r Resource) int64 {
	switch r.Type {
	case ResourceCredits:
		return g.Resources.Credits
	case ResourceOre:
		return g.Resources.Ores[r.SubType]
	case ResourceReputation:
		return g.Resources.Reputation
	case ResourceInfluence:
		return g.Resources.Influence
	case ResourceResearch:
		return g.Resources.ResearchPoints
	}
	return 0
}

func (g *Guild) adjust(r Resource, delta int64) error {
	next := g.Balance(r) + delta
	if next < 0 {
		return apperr.Newf(apperr.KindInsufficientFunds, "insufficient %s: have %d, need %d", r, g.Balance(r), -delta)
	}
	switch r.Type {
	case ResourceCredits:
		g.Resources.Credits = next
	case ResourceOre:
		if g.Resources.Ores == nil {
			g.Resources.Ores = make(map[string]int64)
		}
		g.Resources.Ores[r.SubType] = next
	case ResourceReputation:
		g.Resources.Reputation = next
	case ResourceInfluence:
		g.Resources.Influence = next
	case ResourceResearch:
		g.Resources.ResearchPoints = next
	default:
		return apperr.Newf(apperr.KindValidation, "unknown resource type %q", r.Type)
	}
	return nil
}

// RequiredExperience is the cumulative experience needed to advance from level.
func RequiredExperience(level int) int64 {
	l := int64(level)
	return l * l * 1000
}

// addExperience awards xp and levels up one step at a time. It returns the
// levels reached and the perks newly unlocked.
func (g *Guild) addExperience(xp int64) (levels []int, unlocked []string) {
	if xp <= 0 {
		return nil, nil
	}
	g.Stats.Experience += xp
	for g.Stats.Experience >= RequiredExperience(g.Stats.Level) {
		g.Stats.Level++
		levels = append(levels, g.Stats.Level)
	}
	if len(levels) > 0 {
		for _, id := range perksUpTo(g.Stats.Level) {
			if !g.UnlockedPerks[id] {
				g.UnlockedPerks[id] = true
				unlocked = append(unlocked, id)
			}
		}
	}
	return levels, unlocked
}

// CheckInvariants verifies the aggregate's local invariants.
func (g *Guild) CheckInvariants() error {
	if g.Stats.TotalMembers != len(g.Members) {
		return fmt.Errorf("total_members %d != roster %d", g.Stats.TotalMembers, len(g.Members))
	}
	if g.Stats.Level < 1 || g.Stats.Experience < 0 {
		return fmt.Errorf("invalid level %d / experience %d", g.Stats.Level, g.Stats.Experience)
	}
	if g.Resources.Credits < 0 {
		return fmt.Errorf("negative credits %d", g.Resources.Credits)
	}
	for ore, q := range g.Resources.Ores {
		if q < 0 {
			return fmt.Errorf("negative ore %s: %d", ore, q)
		}
	}
	defaults := 0
	for _, r := range g.Roles {
		if r.IsDefault {
			defaults++
		}
		if r.MaxMembers != Unlimited && g.roleCount(r.ID) > r.MaxMembers {
			return fmt.Errorf("role %s over capacity", r.Key)
		}
	}
	if defaults != 1 {
		return fmt.Errorf("expected one default role, found %d", defaults)
	}
	if g.IsActive {
		if _, r, ok := g.MemberRole(g.FounderID); !ok || r.Key != RoleFounder {
			return fmt.Errorf("founder %d does not hold the founder role", g.FounderID)
		}
		founder, _ := g.RoleByKey(RoleFounder)
		if n := g.roleCount(founder.ID); n != 1 {
			return fmt.Errorf("expected one founder, found %d", n)
		}
	}
	return nil
}
