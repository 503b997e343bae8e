// Package handlers implements the HTTP API surface. Handlers translate
// requests into session scopes and enforcement calls; no quota logic
// lives here.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"keisha/internal/analysis"
	"keisha/internal/domain"
	"keisha/internal/enforce"
	"keisha/internal/entitlement"
	"keisha/internal/middleware"
	"keisha/internal/payment"
	"keisha/internal/session"
)

type App struct {
	Logger    zerolog.Logger
	Sessions  *session.Service
	Enforcer  *enforce.Enforcer
	Analyzer  analysis.Analyzer
	Payments  *payment.Client
	Events    domain.UsageEventRecorder
	JWTSecret string
	Now       func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// usageDTO is the usage snapshot embedded in most responses.
type usageDTO struct {
	Tier          string `json:"tier"`
	UsedToday     int    `json:"used_today"`
	DailyLimit    int    `json:"daily_limit"`
	Remaining     int    `json:"remaining"`
	Unlimited     bool   `json:"unlimited"`
	CanAnalyze    bool   `json:"can_analyze"`
	PromptUpgrade bool   `json:"prompt_upgrade"`
}

func usageFromRecord(rec domain.UsageRecord) usageDTO {
	limit, _ := domain.LimitFor(rec.Tier)
	remaining := entitlement.RemainingUses(rec)
	return usageDTO{
		Tier:          string(rec.Tier),
		UsedToday:     rec.UsedToday,
		DailyLimit:    limit,
		Remaining:     remaining.Uses,
		Unlimited:     remaining.Unlimited,
		CanAnalyze:    entitlement.CanAnalyze(rec),
		PromptUpgrade: entitlement.ShouldPromptUpgrade(rec),
	}
}

type userDTO struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Guest bool   `json:"guest"`
	Tier  string `json:"tier"`
}

func userFromScope(scope *session.Scope) userDTO {
	ident, _ := scope.Identity()
	rec := scope.Record()
	return userDTO{
		ID:    ident.ID,
		Email: ident.Email,
		Guest: ident.Kind == domain.IdentityGuest,
		Tier:  string(rec.Tier),
	}
}

// identity pulls the authenticated identity off the request context.
func (a *App) identity(r *http.Request) (domain.Identity, bool) {
	return middleware.IdentityFromContext(r.Context())
}

// recordEvent writes a best-effort analytics row. Failures are logged,
// never surfaced.
func (a *App) recordEvent(r *http.Request, identityID string, typ domain.UsageEventType, success bool, latency time.Duration, props map[string]any) {
	if a.Events == nil {
		return
	}
	event := domain.UsageEvent{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
		Type:       typ,
		Success:    success,
		LatencyMS:  int(latency.Milliseconds()),
		Country:    middleware.CountryFromContext(r.Context()),
		Properties: props,
		CreatedAt:  a.now(),
	}
	// Analytics writes outlive the request: the row should land even when
	// the client disconnects right after the response.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := a.Events.Record(ctx, event); err != nil {
		a.Logger.Error().Err(err).Str("event_type", string(typ)).Msg("record usage event failed")
	}
}
