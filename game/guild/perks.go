package guild

import "sort"

// Perk is a level-gated guild upgrade bought with credits.
type Perk struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	RequiredLevel int    `json:"required_level"`
	Cost          int64  `json:"cost"`
}

// Perk identifiers.
const (
	PerkMiningEfficiency = "mining_efficiency"
	PerkTradeDiscount    = "trade_discount"
	PerkCombatTraining   = "combat_training"
	PerkExpandedRoster   = "expanded_roster"
	PerkResearchBoost    = "research_boost"
	PerkTerritoryShield  = "territory_shield"
)

// ExpandedRosterBonus is the extra member capacity granted by PerkExpandedRoster.
const ExpandedRosterBonus = 10

var perkCatalog = map[string]Perk{
	PerkMiningEfficiency: {PerkMiningEfficiency, "Mining Efficiency", "+10% ore yield for members", 2, 5000},
	PerkTradeDiscount:    {PerkTradeDiscount, "Trade Discount", "5% discount at allied stations", 3, 10000},
	PerkCombatTraining:   {PerkCombatTraining, "Combat Training", "+5% weapon damage for members", 4, 15000},
	PerkExpandedRoster:   {PerkExpandedRoster, "Expanded Roster", "Raises the member cap by 10", 5, 25000},
	PerkResearchBoost:    {PerkResearchBoost, "Research Boost", "+15% research point gain", 6, 30000},
	PerkTerritoryShield:  {PerkTerritoryShield, "Territory Shield", "Claimed territories resist capture", 8, 50000},
}

// LookupPerk returns the catalog entry for id.
func LookupPerk(id string) (Perk, bool) {
	p, ok := perkCatalog[id]
	return p, ok
}

// Perks returns the catalog ordered by required level.
func Perks() []Perk {
	out := make([]Perk, 0, len(perkCatalog))
	for _, p := range perkCatalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredLevel != out[j].RequiredLevel {
			return out[i].RequiredLevel < out[j].RequiredLevel
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// perksUpTo returns ids of perks whose required level is at most level.
func perksUpTo(level int) []string {
	var ids []string
	for _, p := range Perks() {
		if p.RequiredLevel <= level {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
