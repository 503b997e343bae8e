package repo

import (
	"context"
	"fmt"
	"time"

	"keisha/internal/domain"
	"keisha/internal/entitlement"
	"keisha/internal/infra"
	"keisha/internal/sqlinline"
)

// UsageSyncerPG reconciles a locally held count with the database row. The
// database wins on tier and on the higher count; the caller treats any error
// here as non-fatal and keeps enforcing against its local record.
type UsageSyncerPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewUsageSyncer creates a new UsageSyncerPG.
func NewUsageSyncer(sql infra.SQLExecutor) *UsageSyncerPG {
	return &UsageSyncerPG{sql: sql, now: time.Now}
}

// Sync merges localCount into the authoritative row and returns the result.
func (s *UsageSyncerPG) Sync(ctx context.Context, identityID string, localCount int) (domain.SyncState, error) {
	today := domain.Today(s.now())
	row := s.sql.QueryRow(ctx, sqlinline.QSyncUsage, identityID, localCount, today)
	var (
		tier string
		used int
	)
	if err := row.Scan(&tier, &used); err != nil {
		return domain.SyncState{}, fmt.Errorf("%w: %v", domain.ErrSyncUnavailable, err)
	}
	rec := domain.UsageRecord{IdentityID: identityID, Tier: domain.Tier(tier), UsedToday: used, LastReset: today}
	return domain.SyncState{
		Tier:       rec.Tier,
		UsedToday:  used,
		CanAnalyze: entitlement.CanAnalyze(rec),
	}, nil
}
