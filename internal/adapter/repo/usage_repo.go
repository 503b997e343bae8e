package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"keisha/internal/domain"
	"keisha/internal/infra"
	"keisha/internal/sqlinline"
)

// UsageStorePG persists registered identities' usage records. Tier always
// comes from the users row so a tier change is visible on the next load.
type UsageStorePG struct {
	sql infra.SQLExecutor
}

// NewUsageStore creates a new UsageStorePG.
func NewUsageStore(sql infra.SQLExecutor) *UsageStorePG {
	return &UsageStorePG{sql: sql}
}

// Load returns the stored record, or a fresh default when the identity has
// never analyzed anything.
func (s *UsageStorePG) Load(ctx context.Context, identity domain.Identity, today string) (domain.UsageRecord, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectUsage, identity.ID)
	var (
		tier      string
		used      int
		lastReset string
	)
	if err := row.Scan(&tier, &used, &lastReset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewUsageRecord(identity, today), nil
		}
		return domain.UsageRecord{}, fmt.Errorf("load usage row: %w", err)
	}
	if lastReset == "" {
		// users row exists but no usage row yet
		rec := domain.NewUsageRecord(identity, today)
		rec.Tier = domain.Tier(tier)
		return rec, nil
	}
	return domain.UsageRecord{
		IdentityID: identity.ID,
		Tier:       domain.Tier(tier),
		UsedToday:  used,
		LastReset:  lastReset,
	}, nil
}

// Save upserts the usage row. The tier itself lives on users and is written
// through domain.UserRepository.UpdateTier.
func (s *UsageStorePG) Save(ctx context.Context, identity domain.Identity, record domain.UsageRecord) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertUsage, identity.ID, record.UsedToday, record.LastReset); err != nil {
		return fmt.Errorf("save usage row: %w", err)
	}
	return nil
}

// Clear removes the usage row, e.g. on logout.
func (s *UsageStorePG) Clear(ctx context.Context, identity domain.Identity) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QDeleteUsage, identity.ID); err != nil {
		return fmt.Errorf("clear usage row: %w", err)
	}
	return nil
}
