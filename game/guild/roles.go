package guild

import "sort"

// Permission is a capability string held by a role.
type Permission string

const (
	PermInvite     Permission = "members.invite"
	PermKick       Permission = "members.kick"
	PermPromote    Permission = "members.promote"
	PermDemote     Permission = "members.demote"
	PermDeposit    Permission = "resources.deposit"
	PermWithdraw   Permission = "resources.withdraw"
	PermDiplomacy  Permission = "diplomacy.manage"
	PermPerks      Permission = "perks.activate"
	PermSettings   Permission = "guild.settings"
	PermDisband    Permission = "guild.disband"
	PermTerritory  Permission = "territory.manage"
	PermViewEvents Permission = "events.view"
)

// Role keys of the fixed hierarchy.
const (
	RoleFounder = "founder"
	RoleLeader  = "leader"
	RoleOfficer = "officer"
	RoleVeteran = "veteran"
	RoleMember  = "member"
	RoleRecruit = "recruit"
)

// Unlimited marks a role without a member cap.
const Unlimited = -1

// Role is one rank of a guild. Lower Priority means more authority.
type Role struct {
	ID          int64        `json:"id"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Priority    int          `json:"priority"`
	Permissions []Permission `json:"permissions"`
	MaxMembers  int          `json:"max_members"`
	IsDefault   bool         `json:"is_default"`
}

// Has reports whether the role grants p.
func (r *Role) Has(p Permission) bool {
	for _, have := range r.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Outranks reports whether r has strictly more authority than o.
func (r *Role) Outranks(o *Role) bool {
	return r.Priority < o.Priority
}

var allPermissions = []Permission{
	PermInvite, PermKick, PermPromote, PermDemote, PermDeposit, PermWithdraw,
	PermDiplomacy, PermPerks, PermSettings, PermDisband, PermTerritory, PermViewEvents,
}

func allExcept(skip ...Permission) []Permission {
	out := make([]Permission, 0, len(allPermissions))
next:
	for _, p := range allPermissions {
		for _, s := range skip {
			if p == s {
				continue next
			}
		}
		out = append(out, p)
	}
	return out
}

// DefaultRoles returns the six roles every guild is created with, highest first.
func DefaultRoles() []Role {
	roles := []Role{
		{Key: RoleFounder, Name: "Founder", Priority: 0, Permissions: allExcept(), MaxMembers: 1},
		{Key: RoleLeader, Name: "Leader", Priority: 1, Permissions: allExcept(PermDisband), MaxMembers: 2},
		{Key: RoleOfficer, Name: "Officer", Priority: 2, MaxMembers: 5,
			Permissions: []Permission{PermInvite, PermKick, PermPromote, PermDemote, PermDeposit, PermViewEvents}},
		{Key: RoleVeteran, Name: "Veteran", Priority: 3, MaxMembers: 10,
			Permissions: []Permission{PermInvite, PermDeposit, PermViewEvents}},
		{Key: RoleMember, Name: "Member", Priority: 4, MaxMembers: Unlimited, IsDefault: true,
			Permissions: []Permission{PermDeposit, PermViewEvents}},
		{Key: RoleRecruit, Name: "Recruit", Priority: 5, MaxMembers: Unlimited,
			Permissions: []Permission{PermViewEvents}},
	}
	return roles
}

func sortRoles(roles []*Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Priority < roles[j].Priority })
}
