package domain

import "time"

// CivilDate is the layout used for day-granularity reset bookkeeping. The
// local device date is authoritative for resets, not a server timestamp.
const CivilDate = "2006-01-02"

// Today formats now as a civil date in its own location.
func Today(now time.Time) string {
	return now.Format(CivilDate)
}

// UsageRecord is the per-identity counter and reset-date state that gates
// entitlement. IdentityID is a lookup reference only; the record does not own
// the identity's lifecycle.
type UsageRecord struct {
	IdentityID string `json:"identity_id"`
	Tier       Tier   `json:"tier"`
	UsedToday  int    `json:"used_today"`
	LastReset  string `json:"last_reset"`
}

// NewUsageRecord returns a zero-count record for the identity, starting on
// its default tier.
func NewUsageRecord(identity Identity, today string) UsageRecord {
	return UsageRecord{
		IdentityID: identity.ID,
		Tier:       identity.DefaultTier(),
		LastReset:  today,
	}
}
