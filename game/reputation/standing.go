package reputation

import "math"

// Value bounds of the ledger.
const (
	MinValue = -100.0
	MaxValue = 100.0
)

// Tier is a discrete standing bucket.
type Tier string

const (
	TierHostile    Tier = "HOSTILE"
	TierUnfriendly Tier = "UNFRIENDLY"
	TierNeutral    Tier = "NEUTRAL"
	TierFriendly   Tier = "FRIENDLY"
	TierAllied     Tier = "ALLIED"
)

// TerritoryAccess is the level of access a faction grants to its space.
type TerritoryAccess string

const (
	TerritoryBanned       TerritoryAccess = "BANNED"
	TerritoryWatched      TerritoryAccess = "WATCHED"
	TerritoryAllowed      TerritoryAccess = "ALLOWED"
	TerritoryWelcomed     TerritoryAccess = "WELCOMED"
	TerritoryUnrestricted TerritoryAccess = "UNRESTRICTED"
)

// Effects is the gameplay bundle attached to a tier.
type Effects struct {
	CanTrade           bool            `json:"can_trade"`
	AttackOnSight      bool            `json:"attack_on_sight"`
	BountyMultiplier   float64         `json:"bounty_multiplier"`
	ContractAccess     bool            `json:"contract_access"`
	TerritoryAccess    TerritoryAccess `json:"territory_access"`
	PriceMultiplier    float64         `json:"price_multiplier"`
	SpecialServices    bool            `json:"special_services"`
	DiplomaticImmunity bool            `json:"diplomatic_immunity"`
	EscortAvailable    bool            `json:"escort_available"`
}

// Standing is a resolved tier with its effects.
type Standing struct {
	Tier    Tier    `json:"tier"`
	Effects Effects `json:"effects"`
}

type tierDef struct {
	tier      Tier
	threshold float64
	effects   Effects
}

// tiers are ordered lowest to highest; thresholds are lower-inclusive.
var tiers = []tierDef{
	{TierHostile, -100, Effects{
		AttackOnSight: true, BountyMultiplier: 2.0, TerritoryAccess: TerritoryBanned, PriceMultiplier: 2.0,
	}},
	{TierUnfriendly, -75, Effects{
		CanTrade: true, BountyMultiplier: 1.5, TerritoryAccess: TerritoryWatched, PriceMultiplier: 1.25,
	}},
	{TierNeutral, -25, Effects{
		CanTrade: true, BountyMultiplier: 1.0, ContractAccess: true, TerritoryAccess: TerritoryAllowed, PriceMultiplier: 1.0,
	}},
	{TierFriendly, 25, Effects{
		CanTrade: true, BountyMultiplier: 0.75, ContractAccess: true, TerritoryAccess: TerritoryWelcomed,
		PriceMultiplier: 0.9, SpecialServices: true, EscortAvailable: true,
	}},
	{TierAllied, 75, Effects{
		CanTrade: true, BountyMultiplier: 0.5, ContractAccess: true, TerritoryAccess: TerritoryUnrestricted,
		PriceMultiplier: 0.75, SpecialServices: true, DiplomaticImmunity: true, EscortAvailable: true,
	}},
}

// ResolveStanding maps a value to the highest tier whose threshold it meets.
// Values below every threshold resolve to HOSTILE.
func ResolveStanding(value float64) Standing {
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].threshold <= value {
			return Standing{Tier: tiers[i].tier, Effects: tiers[i].effects}
		}
	}
	return Standing{Tier: tiers[0].tier, Effects: tiers[0].effects}
}

// Rank orders tiers from HOSTILE (0) to ALLIED (4); unknown tiers rank -1.
func (t Tier) Rank() int {
	for i, d := range tiers {
		if d.tier == t {
			return i
		}
	}
	return -1
}

// Threshold returns the lower bound of t.
func (t Tier) Threshold() float64 {
	if r := t.Rank(); r >= 0 {
		return tiers[r].threshold
	}
	return math.NaN()
}

// Tiers returns the tier catalog from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	for i, d := range tiers {
		out[i] = d.tier
	}
	return out
}

// Interaction kinds understood by Effects.Permits.
const (
	InteractTrade           = "TRADE"
	InteractContracts       = "CONTRACTS"
	InteractEnterTerritory  = "ENTER_TERRITORY"
	InteractSpecialServices = "SPECIAL_SERVICES"
	InteractRequestEscort   = "REQUEST_ESCORT"
)

// Permits maps an interaction kind to its effect flag. Unknown kinds are permitted.
func (e Effects) Permits(kind string) bool {
	switch kind {
	case InteractTrade:
		return e.CanTrade
	case InteractContracts:
		return e.ContractAccess
	case InteractEnterTerritory:
		return e.TerritoryAccess != TerritoryBanned
	case InteractSpecialServices:
		return e.SpecialServices
	case InteractRequestEscort:
		return e.EscortAvailable
	default:
		return true
	}
}

func clamp(v float64) float64 {
	return math.Max(MinValue, math.Min(MaxValue, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
