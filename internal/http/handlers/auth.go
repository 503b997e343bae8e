package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"keisha/internal/domain"
	"keisha/internal/middleware"
	"keisha/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userDTO  `json:"user"`
	Usage usageDTO `json:"usage"`
}

func (a *App) authResponse(scope *session.Scope) (authResponse, error) {
	ident, _ := scope.Identity()
	rec := scope.Record()
	token, err := middleware.IssueToken(a.JWTSecret, ident, rec.Tier, a.now())
	if err != nil {
		return authResponse{}, err
	}
	return authResponse{
		Token: token,
		User:  userFromScope(scope),
		Usage: usageFromRecord(rec),
	}, nil
}

func (a *App) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	scope, err := a.Sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			a.error(w, http.StatusConflict, "email_taken", "email already registered")
			return
		}
		if errors.Is(err, domain.ErrInvalidCredentials) {
			a.error(w, http.StatusBadRequest, "invalid_credentials", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("register failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to register")
		return
	}
	resp, err := a.authResponse(scope)
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign token failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusCreated, resp)
}

func (a *App) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	scope, err := a.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			a.error(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
			return
		}
		a.Logger.Error().Err(err).Msg("login failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to log in")
		return
	}
	resp, err := a.authResponse(scope)
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign token failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusOK, resp)
}

// GuestEnter mints an anonymous identity so visitors can try the
// analyzer before registering.
func (a *App) GuestEnter(w http.ResponseWriter, r *http.Request) {
	scope, err := a.Sessions.EnterGuest(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("guest entry failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start guest session")
		return
	}
	resp, err := a.authResponse(scope)
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign token failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusCreated, resp)
}

// Me restores the caller's scope from token claims.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	scope, err := a.Sessions.Restore(r.Context(), ident.ID, ident.Kind == domain.IdentityGuest)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			a.error(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
			return
		}
		a.Logger.Error().Err(err).Msg("restore failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to restore session")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"user":  userFromScope(scope),
		"usage": usageFromRecord(scope.Record()),
	})
}

// Logout clears the identity's stored usage record. The client discards
// its token; there is no server-side token revocation.
func (a *App) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if err := a.Sessions.Forget(r.Context(), ident); err != nil {
		a.Logger.Error().Err(err).Str("identity_id", ident.ID).Msg("logout cleanup failed")
	}
	w.WriteHeader(http.StatusNoContent)
}
