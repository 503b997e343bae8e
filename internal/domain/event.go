package domain

import "time"

// UsageEventType names an enforcement outcome for analytics.
type UsageEventType string

const (
	EventAnalysisAllowed UsageEventType = "ANALYSIS_ALLOWED"
	EventAnalysisFailed  UsageEventType = "ANALYSIS_FAILED"
	EventLimitExceeded   UsageEventType = "LIMIT_EXCEEDED"
	EventPaywallShown    UsageEventType = "PAYWALL_SHOWN"
	EventTierUpgraded    UsageEventType = "TIER_UPGRADED"
)

// UsageEvent is one analytics row. Recording is best effort everywhere;
// nothing user-facing reads these back.
type UsageEvent struct {
	ID         string
	IdentityID string
	RequestID  string
	Type       UsageEventType
	Success    bool
	LatencyMS  int
	Country    string
	Properties map[string]any
	CreatedAt  time.Time
}
