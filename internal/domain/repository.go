package domain

import "context"

// UserRepository defines access methods for registered accounts.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateTier(ctx context.Context, id string, tier Tier) (*User, error)
}

// UsageStore persists UsageRecords keyed by identity. Load never fails on a
// missing record; it returns a fresh default instead.
type UsageStore interface {
	Load(ctx context.Context, identity Identity, today string) (UsageRecord, error)
	Save(ctx context.Context, identity Identity, record UsageRecord) error
	Clear(ctx context.Context, identity Identity) error
}

// SyncState is the backend-authoritative view of a registered identity's
// entitlement.
type SyncState struct {
	Tier       Tier
	UsedToday  int
	CanAnalyze bool
}

// UsageSyncer reconciles a registered identity's local count with the
// backend. Guest identities never sync. Failures are non-fatal to callers.
type UsageSyncer interface {
	Sync(ctx context.Context, identityID string, localCount int) (SyncState, error)
}

// UsageEventRecorder appends enforcement outcomes for analytics. Best effort.
type UsageEventRecorder interface {
	Record(ctx context.Context, event UsageEvent) error
}
