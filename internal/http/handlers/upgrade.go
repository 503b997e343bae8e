package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"keisha/internal/domain"
	"keisha/internal/metrics"
	"keisha/internal/middleware"
	"keisha/internal/payment"
)

type chargeRequest struct {
	Tier      string `json:"tier"`
	Method    string `json:"method"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

// UpgradeCharge creates a hosted checkout session for a paid tier. Guests
// must register before buying; their records never reach the backend.
func (a *App) UpgradeCharge(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if ident.Kind == domain.IdentityGuest {
		a.error(w, http.StatusForbidden, "account_required", "register an account before upgrading")
		return
	}
	if a.Payments == nil {
		a.error(w, http.StatusServiceUnavailable, "payments_disabled", "payments are not configured")
		return
	}
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	charge, err := a.Payments.CreateCharge(r.Context(), payment.ChargeRequest{
		IdentityID: ident.ID,
		Email:      ident.Email,
		Tier:       domain.Tier(req.Tier),
		Method:     req.Method,
		ReturnURL:  req.ReturnURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidCharge) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("create charge failed")
		a.error(w, http.StatusBadGateway, "provider_failure", "payment provider unavailable")
		return
	}
	a.json(w, http.StatusCreated, charge)
}

type confirmRequest struct {
	Tier       string `json:"tier"`
	ChargeCode string `json:"charge_code"`
}

// UpgradeConfirm applies the tier change after checkout completes. The
// paywall is dismissed and a fresh token carrying the new tier is issued.
func (a *App) UpgradeConfirm(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	tier := domain.Tier(req.Tier)
	scope, err := a.Sessions.ScopeFor(r.Context(), ident)
	if err != nil {
		a.Logger.Error().Err(err).Msg("load usage scope failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage state")
		return
	}
	if err := a.Sessions.UpgradeTier(r.Context(), scope, tier); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedTier):
			a.error(w, http.StatusBadRequest, "bad_request", "unknown tier")
		case errors.Is(err, domain.ErrAccountRequired):
			a.error(w, http.StatusForbidden, "account_required", "register an account before upgrading")
		default:
			a.Logger.Error().Err(err).Msg("tier upgrade failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to apply upgrade")
		}
		return
	}

	metrics.UpgradesTotal.WithLabelValues(string(tier)).Inc()
	a.Enforcer.Paywall().Dismiss(ident.ID)
	a.recordEvent(r, ident.ID, domain.EventTierUpgraded, true, 0, map[string]any{
		"tier":        string(tier),
		"charge_code": req.ChargeCode,
	})

	token, err := middleware.IssueToken(a.JWTSecret, ident, tier, a.now())
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign token failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userFromScope(scope),
		"usage": usageFromRecord(scope.Record()),
	})
}
