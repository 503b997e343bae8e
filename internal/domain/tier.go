package domain

// Tier enumerates subscription levels.
type Tier string

const (
	TierGuest   Tier = "guest"
	TierFree    Tier = "free"
	TierMonthly Tier = "monthly"
	TierAnnual  Tier = "annual"
)

// BillingCycle enumerates how a tier is billed.
type BillingCycle string

const (
	BillingNone    BillingCycle = "none"
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// UnlimitedDaily is the catalog sentinel for tiers without a daily cap.
const UnlimitedDaily = -1

// TierInfo describes a catalog entry. PriceCents is informational only and
// never consulted by enforcement.
type TierInfo struct {
	DailyLimit int
	Cycle      BillingCycle
	PriceCents int
	rank       int
}

// Unlimited reports whether the entry has no daily cap.
func (i TierInfo) Unlimited() bool {
	return i.DailyLimit == UnlimitedDaily
}

var tierCatalog = map[Tier]TierInfo{
	TierGuest:   {DailyLimit: 3, Cycle: BillingNone, PriceCents: 0, rank: 0},
	TierFree:    {DailyLimit: 3, Cycle: BillingNone, PriceCents: 0, rank: 1},
	TierMonthly: {DailyLimit: 10, Cycle: BillingMonthly, PriceCents: 1000, rank: 2},
	TierAnnual:  {DailyLimit: UnlimitedDaily, Cycle: BillingYearly, PriceCents: 10000, rank: 3},
}

// Tiers returns the catalog tiers ordered by entitlement breadth.
func Tiers() []Tier {
	return []Tier{TierGuest, TierFree, TierMonthly, TierAnnual}
}

// Known reports whether t is a catalog tier.
func (t Tier) Known() bool {
	_, ok := tierCatalog[t]
	return ok
}

// Info returns the catalog entry for t. ok is false for unknown tiers.
func (t Tier) Info() (TierInfo, bool) {
	info, ok := tierCatalog[t]
	return info, ok
}

// LimitFor returns the daily limit for t (UnlimitedDaily for uncapped tiers).
// ok is false for tiers outside the catalog.
func LimitFor(t Tier) (int, bool) {
	info, ok := tierCatalog[t]
	if !ok {
		return 0, false
	}
	return info.DailyLimit, true
}

// Rank orders tiers by entitlement breadth. Unknown tiers rank below guest.
func (t Tier) Rank() int {
	info, ok := tierCatalog[t]
	if !ok {
		return -1
	}
	return info.rank
}

// TopTier returns the broadest catalog tier.
func TopTier() Tier {
	return TierAnnual
}

// RecommendedUpgrade returns the next tier worth offering. ok is false when
// there is nothing above t.
func RecommendedUpgrade(t Tier) (Tier, bool) {
	switch t {
	case TierGuest, TierFree:
		return TierMonthly, true
	case TierMonthly:
		return TierAnnual, true
	default:
		return "", false
	}
}
