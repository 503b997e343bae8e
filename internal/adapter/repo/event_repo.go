package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"keisha/internal/domain"
	"keisha/internal/infra"
	"keisha/internal/sqlinline"
)

// UsageEventRepoPG appends enforcement outcomes for analytics. Callers treat
// failures as best effort; nothing user-facing depends on these rows.
type UsageEventRepoPG struct {
	sql infra.SQLExecutor
}

// NewUsageEventRepo creates a new UsageEventRepoPG.
func NewUsageEventRepo(sql infra.SQLExecutor) *UsageEventRepoPG {
	return &UsageEventRepoPG{sql: sql}
}

// Record inserts one event row.
func (r *UsageEventRepoPG) Record(ctx context.Context, event domain.UsageEvent) error {
	props := event.Properties
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode event properties: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertUsageEvent,
		event.IdentityID,
		event.RequestID,
		string(event.Type),
		event.Success,
		event.LatencyMS,
		event.Country,
		raw,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}
