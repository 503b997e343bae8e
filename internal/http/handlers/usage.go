package handlers

import (
	"net/http"

	"keisha/internal/domain"
)

type usageStatusResponse struct {
	Usage   usageDTO       `json:"usage"`
	Paywall paywallDTO     `json:"paywall"`
	Upgrade *upgradeHint   `json:"upgrade,omitempty"`
	Tiers   []tierCatalogE `json:"tiers"`
}

type paywallDTO struct {
	Visible bool   `json:"visible"`
	Reason  string `json:"reason,omitempty"`
}

type upgradeHint struct {
	Tier       string `json:"tier"`
	PriceCents int    `json:"price_cents"`
}

type tierCatalogE struct {
	Tier       string `json:"tier"`
	DailyLimit int    `json:"daily_limit"`
	Unlimited  bool   `json:"unlimited"`
	PriceCents int    `json:"price_cents"`
	Cycle      string `json:"billing_cycle"`
}

// UsageStatus reports the caller's quota snapshot, the paywall state, and
// the tier catalog for upsell display.
func (a *App) UsageStatus(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	scope, err := a.Sessions.ScopeFor(r.Context(), ident)
	if err != nil {
		a.Logger.Error().Err(err).Msg("load usage scope failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage state")
		return
	}
	rec := scope.Record()
	visible, reason := a.Enforcer.Paywall().Visible(ident.ID)

	resp := usageStatusResponse{
		Usage:   usageFromRecord(rec),
		Paywall: paywallDTO{Visible: visible, Reason: string(reason)},
		Tiers:   tierCatalog(),
	}
	if next, ok := domain.RecommendedUpgrade(rec.Tier); ok {
		info, _ := next.Info()
		resp.Upgrade = &upgradeHint{Tier: string(next), PriceCents: info.PriceCents}
	}
	a.json(w, http.StatusOK, resp)
}

func tierCatalog() []tierCatalogE {
	entries := make([]tierCatalogE, 0, len(domain.Tiers()))
	for _, tier := range domain.Tiers() {
		info, _ := tier.Info()
		entries = append(entries, tierCatalogE{
			Tier:       string(tier),
			DailyLimit: info.DailyLimit,
			Unlimited:  info.Unlimited(),
			PriceCents: info.PriceCents,
			Cycle:      string(info.Cycle),
		})
	}
	return entries
}

// PaywallDismiss hides the caller's paywall signal without upgrading.
func (a *App) PaywallDismiss(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.Enforcer.Paywall().Dismiss(ident.ID)
	w.WriteHeader(http.StatusNoContent)
}
