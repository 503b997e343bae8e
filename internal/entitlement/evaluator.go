// Package entitlement holds the pure evaluation rules for daily usage
// enforcement. Everything here operates on a UsageRecord snapshot; callers
// own persistence and locking. All behavior flows through the tier catalog so
// adding a tier requires no changes in this package.
package entitlement

import "keisha/internal/domain"

// upgradeWarnRatio is the share of quota after which an upgrade prompt is
// worth showing.
const upgradeWarnRatio = 0.8

// Remaining reports how many uses are left today.
type Remaining struct {
	Uses      int
	Unlimited bool
}

// Valid rejects records with negative counts or tiers outside the catalog.
// Callers must treat an invalid record as "cannot analyze" (fail closed).
func Valid(rec domain.UsageRecord) bool {
	if rec.UsedToday < 0 {
		return false
	}
	if !rec.Tier.Known() {
		return false
	}
	return rec.LastReset != ""
}

// NeedsReset reports whether rec belongs to an earlier calendar day. The
// comparison is on civil dates, not a rolling 24h window.
func NeedsReset(rec domain.UsageRecord, today string) bool {
	return rec.LastReset != today
}

// ApplyReset returns rec zeroed for today when a reset is due, or rec
// unchanged otherwise. Applying it twice on the same day is a no-op after the
// first call.
func ApplyReset(rec domain.UsageRecord, today string) domain.UsageRecord {
	if !NeedsReset(rec, today) {
		return rec
	}
	rec.UsedToday = 0
	rec.LastReset = today
	return rec
}

// CanAnalyze reports whether the record has quota left. Callers must apply
// any pending reset first; a stale record under-reports remaining uses.
// Invalid records are denied.
func CanAnalyze(rec domain.UsageRecord) bool {
	if !Valid(rec) {
		return false
	}
	limit, ok := domain.LimitFor(rec.Tier)
	if !ok {
		return false
	}
	if limit == domain.UnlimitedDaily {
		return true
	}
	return rec.UsedToday < limit
}

// RemainingUses returns the uses left today, floored at zero. Unlimited tiers
// still track UsedToday for display but never run out.
func RemainingUses(rec domain.UsageRecord) Remaining {
	limit, ok := domain.LimitFor(rec.Tier)
	if !ok {
		return Remaining{}
	}
	if limit == domain.UnlimitedDaily {
		return Remaining{Unlimited: true}
	}
	left := limit - rec.UsedToday
	if left < 0 {
		left = 0
	}
	return Remaining{Uses: left}
}

// ShouldPromptUpgrade reports whether the identity is close enough to its cap
// that an upgrade nudge is warranted. Never true for the top tier.
func ShouldPromptUpgrade(rec domain.UsageRecord) bool {
	if rec.Tier.Rank() >= domain.TopTier().Rank() {
		return false
	}
	limit, ok := domain.LimitFor(rec.Tier)
	if !ok || limit == domain.UnlimitedDaily || limit <= 0 {
		return false
	}
	return float64(rec.UsedToday) >= upgradeWarnRatio*float64(limit)
}
