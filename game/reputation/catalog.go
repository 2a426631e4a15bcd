package reputation

import (
	"fmt"
	"sort"

	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/config"
)

// Faction is an organization players hold reputation with.
type Faction struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Action is a named gameplay event with a signed base delta.
type Action struct {
	Code        string  `json:"code"`
	BaseDelta   float64 `json:"base_delta"`
	Description string  `json:"description"`
}

// RelationKind classifies a directed faction edge.
type RelationKind string

const (
	RelationAllied  RelationKind = "ALLIED"
	RelationEnemy   RelationKind = "ENEMY"
	RelationNeutral RelationKind = "NEUTRAL"
)

// Relation is a directed edge From → To used by propagation.
type Relation struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Kind     RelationKind `json:"kind"`
	Strength float64      `json:"strength"`
}

// Action codes.
const (
	ActionTradeCompleted      = "TRADE_COMPLETED"
	ActionContractCompleted   = "CONTRACT_COMPLETED"
	ActionContractFailed      = "CONTRACT_FAILED"
	ActionPirateKilled        = "PIRATE_KILLED"
	ActionFactionMemberKilled = "FACTION_MEMBER_KILLED"
	ActionAttackedShip        = "ATTACKED_FACTION_SHIP"
	ActionSmugglingCaught     = "SMUGGLING_CAUGHT"
	ActionDonation            = "DONATION"
	ActionTerritoryViolation  = "TERRITORY_VIOLATION"
	ActionEscortCompleted     = "ESCORT_COMPLETED"
	ActionDiplomaticMission   = "DIPLOMATIC_MISSION"
	ActionBetrayal            = "BETRAYAL"

	// System codes written by the engine itself; not accepted by ApplyAction.
	ActionDecay       = "REPUTATION_DECAY"
	ActionPropagation = "FACTION_PROPAGATION"
)

var defaultActions = []Action{
	{ActionTradeCompleted, 2, "Completed a trade"},
	{ActionContractCompleted, 5, "Completed a contract"},
	{ActionContractFailed, -3, "Failed a contract"},
	{ActionPirateKilled, 3, "Destroyed a pirate vessel"},
	{ActionFactionMemberKilled, -15, "Killed a faction member"},
	{ActionAttackedShip, -10, "Attacked a faction ship"},
	{ActionSmugglingCaught, -8, "Caught smuggling contraband"},
	{ActionDonation, 4, "Donated to the faction"},
	{ActionTerritoryViolation, -5, "Entered restricted territory"},
	{ActionEscortCompleted, 6, "Escorted a faction convoy"},
	{ActionDiplomaticMission, 10, "Completed a diplomatic mission"},
	{ActionBetrayal, -25, "Betrayed the faction"},
}

var defaultFactions = []Faction{
	{"traders_union", "Traders Union", "Merchant guilds controlling the core trade lanes"},
	{"void_corsairs", "Void Corsairs", "Pirate clans raiding the outer belts"},
	{"stellar_navy", "Stellar Navy", "Military coalition policing inhabited systems"},
	{"science_collective", "Science Collective", "Researchers charting anomalies and artifacts"},
	{"mining_consortium", "Mining Consortium", "Ore extraction and refining conglomerate"},
}

var defaultRelations = []Relation{
	{"traders_union", "void_corsairs", RelationEnemy, 0.8},
	{"traders_union", "mining_consortium", RelationAllied, 0.6},
	{"traders_union", "stellar_navy", RelationAllied, 0.4},
	{"void_corsairs", "traders_union", RelationEnemy, 0.8},
	{"void_corsairs", "stellar_navy", RelationEnemy, 1.0},
	{"stellar_navy", "void_corsairs", RelationEnemy, 1.0},
	{"stellar_navy", "traders_union", RelationAllied, 0.4},
	{"stellar_navy", "science_collective", RelationNeutral, 0.5},
	{"science_collective", "mining_consortium", RelationAllied, 0.5},
	{"science_collective", "stellar_navy", RelationNeutral, 0.5},
	{"mining_consortium", "traders_union", RelationAllied, 0.6},
	{"mining_consortium", "science_collective", RelationAllied, 0.5},
	{"mining_consortium", "void_corsairs", RelationEnemy, 0.5},
}

// Catalog is the static set of factions, actions and the faction graph.
// It is immutable after construction.
type Catalog struct {
	factions map[string]Faction
	order    []string
	actions  map[string]Action
	edges    map[string][]Relation
}

// DefaultCatalog returns the seeded catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultFactions, defaultActions, defaultRelations)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog validates and indexes the given definitions.
// Edges are not mirrored; an asymmetric graph propagates one way only.
func NewCatalog(factions []Faction, actions []Action, relations []Relation) (*Catalog, error) {
	c := &Catalog{
		factions: make(map[string]Faction, len(factions)),
		actions:  make(map[string]Action, len(actions)),
		edges:    make(map[string][]Relation),
	}
	for _, f := range factions {
		if f.ID == "" {
			return nil, apperr.Validation("faction id is required")
		}
		if _, dup := c.factions[f.ID]; dup {
			return nil, apperr.Newf(apperr.KindValidation, "duplicate faction %q", f.ID)
		}
		c.factions[f.ID] = f
		c.order = append(c.order, f.ID)
	}
	for _, a := range actions {
		if a.Code == ActionDecay || a.Code == ActionPropagation {
			return nil, apperr.Newf(apperr.KindValidation, "action code %q is reserved", a.Code)
		}
		c.actions[a.Code] = a
	}
	for _, r := range relations {
		if err := c.validateRelation(r); err != nil {
			return nil, err
		}
		c.edges[r.From] = append(c.edges[r.From], r)
	}
	for from := range c.edges {
		edges := c.edges[from]
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}
	return c, nil
}

func (c *Catalog) validateRelation(r Relation) error {
	if _, ok := c.factions[r.From]; !ok {
		return apperr.Newf(apperr.KindValidation, "relation from unknown faction %q", r.From)
	}
	if _, ok := c.factions[r.To]; !ok {
		return apperr.Newf(apperr.KindValidation, "relation to unknown faction %q", r.To)
	}
	if r.From == r.To {
		return apperr.Newf(apperr.KindValidation, "faction %q cannot relate to itself", r.From)
	}
	if _, ok := propagationTable[r.Kind]; !ok {
		return apperr.Newf(apperr.KindValidation, "unknown relation kind %q", r.Kind)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return apperr.Newf(apperr.KindValidation, "relation strength %.2f outside [0,1]", r.Strength)
	}
	return nil
}

// WithRelations returns a copy of c whose faction graph is replaced by relations.
func (c *Catalog) WithRelations(relations []Relation) (*Catalog, error) {
	factions := make([]Faction, 0, len(c.order))
	for _, id := range c.order {
		factions = append(factions, c.factions[id])
	}
	actions := make([]Action, 0, len(c.actions))
	for _, a := range c.actions {
		actions = append(actions, a)
	}
	return NewCatalog(factions, actions, relations)
}

// RelationsFromConfig converts configured edges.
func RelationsFromConfig(cfg []config.FactionRelationConfig) []Relation {
	out := make([]Relation, 0, len(cfg))
	for _, r := range cfg {
		out = append(out, Relation{From: r.From, To: r.To, Kind: RelationKind(r.Kind), Strength: r.Strength})
	}
	return out
}

// Faction looks up a faction by id.
func (c *Catalog) Faction(id string) (Faction, bool) {
	f, ok := c.factions[id]
	return f, ok
}

// Factions returns every faction in catalog order.
func (c *Catalog) Factions() []Faction {
	out := make([]Faction, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.factions[id])
	}
	return out
}

// Action looks up an action by code.
func (c *Catalog) Action(code string) (Action, bool) {
	a, ok := c.actions[code]
	return a, ok
}

// Actions returns every action sorted by code.
func (c *Catalog) Actions() []Action {
	out := make([]Action, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Relations returns the outgoing edges of factionID.
func (c *Catalog) Relations(factionID string) []Relation {
	return c.edges[factionID]
}

func (c *Catalog) factionName(id string) string {
	if f, ok := c.factions[id]; ok {
		return f.Name
	}
	return fmt.Sprintf("faction %s", id)
}
