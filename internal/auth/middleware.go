package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-seating/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const userIDKey contextKey = "user_id"

// verifier returns the subject of a verified bearer token.
type verifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

type oidcVerifier struct {
	v *oidc.IDTokenVerifier
}

func (o oidcVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := o.v.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}
	var claims struct {
		Sub string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	return claims.Sub, nil
}

// Middleware verifies bearer tokens against the OIDC issuer
// (e.g. http://auth.ticketly.com:8080/realms/event-ticketing).
// With an empty issuer requests pass through unauthenticated.
func Middleware(ctx context.Context, issuer string) (func(http.Handler) http.Handler, error) {
	if issuer == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// SkipClientIDCheck: tokens are issued to the frontend clients, not to us
	v := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return middleware(oidcVerifier{v: v}), nil
}

func middleware(v verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err)
				return
			}
			sub, err := v.Verify(r.Context(), raw)
			if err != nil {
				unauthorized(w, fmt.Errorf("invalid token: %w", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, sub)))
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", errors.New("Authorization header must be Bearer <token>")
	}
	return token, nil
}

func unauthorized(w http.ResponseWriter, err error) {
	utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "UNAUTHORIZED", err.Error(), nil))
}

// UserID returns the token subject, or "" on unauthenticated routes.
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}
