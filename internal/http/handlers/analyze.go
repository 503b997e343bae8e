package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"keisha/internal/analysis"
	"keisha/internal/domain"
	"keisha/internal/enforce"
	"keisha/internal/middleware"
)

type analyzeRequest struct {
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
}

type analyzeResponse struct {
	Analysis *analysis.Result `json:"analysis,omitempty"`
	Usage    usageDTO         `json:"usage"`
	Paywall  bool             `json:"paywall"`
}

// Analyze runs the protected action through the enforcement layer: quota
// gate before, increment after success, paywall signal on exhaustion.
func (a *App) Analyze(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Content == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "content required")
		return
	}

	scope, err := a.Sessions.ScopeFor(r.Context(), ident)
	if err != nil {
		a.Logger.Error().Err(err).Msg("load usage scope failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage state")
		return
	}

	start := a.now()
	var verdict *analysis.Result
	result := a.Enforcer.Execute(r.Context(), scope, func(ctx context.Context) error {
		res, err := a.Analyzer.Analyze(ctx, analysis.Request{
			Content:   req.Content,
			SourceURL: req.SourceURL,
			Locale:    middleware.LocaleFromContext(r.Context()),
		})
		if err != nil {
			return err
		}
		verdict = res
		return nil
	})
	latency := a.now().Sub(start)

	usage := usageFromRecord(scope.Record())
	switch result.Status {
	case enforce.StatusOK:
		a.recordEvent(r, ident.ID, domain.EventAnalysisAllowed, true, latency, map[string]any{
			"tier":      usage.Tier,
			"remaining": usage.Remaining,
		})
		a.json(w, http.StatusOK, analyzeResponse{Analysis: verdict, Usage: usage, Paywall: false})
	case enforce.StatusLimitExceeded:
		a.recordEvent(r, ident.ID, domain.EventLimitExceeded, false, latency, map[string]any{
			"tier": usage.Tier,
		})
		if result.Paywall {
			a.recordEvent(r, ident.ID, domain.EventPaywallShown, true, 0, nil)
		}
		a.json(w, http.StatusTooManyRequests, analyzeResponse{Usage: usage, Paywall: result.Paywall})
	case enforce.StatusCorruptState:
		a.error(w, http.StatusConflict, "corrupt_state", "usage state was reset, retry the request")
	case enforce.StatusUnauthenticated:
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	default:
		a.recordEvent(r, ident.ID, domain.EventAnalysisFailed, false, latency, map[string]any{
			"tier": usage.Tier,
		})
		a.Logger.Error().Err(result.Err).Msg("analysis failed")
		status := http.StatusInternalServerError
		code := "internal"
		switch {
		case errors.Is(result.Err, domain.ErrProviderFailure):
			status = http.StatusBadGateway
			code = "provider_failure"
		case errors.Is(result.Err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
			code = "timeout"
		}
		a.error(w, status, code, "analysis could not be completed")
	}
}
