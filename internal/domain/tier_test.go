package domain

import "testing"

func TestCatalogTotality(t *testing.T) {
	for _, tier := range Tiers() {
		limit, ok := LimitFor(tier)
		if !ok {
			t.Fatalf("LimitFor(%q) not defined", tier)
		}
		if limit < 0 && limit != UnlimitedDaily {
			t.Fatalf("LimitFor(%q) = %d, want >= 0 or unlimited sentinel", tier, limit)
		}
	}
}

func TestLimitForUnknownTier(t *testing.T) {
	if _, ok := LimitFor(Tier("platinum")); ok {
		t.Fatalf("LimitFor() accepted unknown tier")
	}
}

func TestTierOrdering(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Rank() >= tiers[i].Rank() {
			t.Fatalf("tier %q (rank %d) not below %q (rank %d)", tiers[i-1], tiers[i-1].Rank(), tiers[i], tiers[i].Rank())
		}
	}
	if Tier("platinum").Rank() != -1 {
		t.Fatalf("unknown tier should rank below the catalog")
	}
}

func TestRecommendedUpgrade(t *testing.T) {
	tests := []struct {
		tier Tier
		want Tier
		ok   bool
	}{
		{TierGuest, TierMonthly, true},
		{TierFree, TierMonthly, true},
		{TierMonthly, TierAnnual, true},
		{TierAnnual, "", false},
	}
	for _, tc := range tests {
		got, ok := RecommendedUpgrade(tc.tier)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("RecommendedUpgrade(%q) = %q, %v; want %q, %v", tc.tier, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDefaultTier(t *testing.T) {
	guest := Identity{ID: "g1", Kind: IdentityGuest}
	if got := guest.DefaultTier(); got != TierGuest {
		t.Fatalf("guest DefaultTier() = %q", got)
	}
	user := Identity{ID: "u1", Kind: IdentityRegistered}
	if got := user.DefaultTier(); got != TierFree {
		t.Fatalf("registered DefaultTier() = %q", got)
	}
}
