package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"keisha/internal/domain"
)

const (
	tokenIssuer   = "keisha-api"
	tokenAudience = "keisha-clients"
	tokenLifetime = 7 * 24 * time.Hour
)

type TokenClaims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Tier     string `json:"tier"`
	Guest    bool   `json:"guest"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

type identityKey string

const (
	identityCtxKey identityKey = "identity"
)

// IssueToken signs a token for the given identity and tier.
func IssueToken(secret string, ident domain.Identity, tier domain.Tier, now time.Time) (string, error) {
	claims := TokenClaims{
		Sub:      ident.ID,
		Email:    ident.Email,
		Tier:     string(tier),
		Guest:    ident.Kind == domain.IdentityGuest,
		Exp:      now.Add(tokenLifetime).Unix(),
		Issuer:   tokenIssuer,
		Audience: tokenAudience,
	}
	return SignJWT(secret, claims)
}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, _ := json.Marshal(claims)
	headerEnc := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	data := headerEnc + "." + payloadEnc
	sig := hmacSign(secret, data)
	return data + "." + sig, nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token")
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errors.New("invalid signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token expired")
	}
	if claims.Issuer != "" && claims.Issuer != tokenIssuer {
		return nil, errors.New("unknown issuer")
	}
	if claims.Audience != "" && claims.Audience != tokenAudience {
		return nil, errors.New("unknown audience")
	}
	return &claims, nil
}

// AuthJWT requires a valid bearer token and stores the caller's identity
// in the request context. Guest tokens pass through like registered ones;
// the guest flag rides on the claims.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyJWT(secret, parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			kind := domain.IdentityRegistered
			if claims.Guest {
				kind = domain.IdentityGuest
			}
			ident := domain.Identity{ID: claims.Sub, Email: claims.Email, Kind: kind}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), ident)))
		})
	}
}

func ContextWithIdentity(ctx context.Context, ident domain.Identity) context.Context {
	if strings.TrimSpace(ident.ID) == "" {
		return ctx
	}
	return context.WithValue(ctx, identityCtxKey, ident)
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	ident, ok := ctx.Value(identityCtxKey).(domain.Identity)
	return ident, ok
}
