package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

type ctxKeyPrincipal struct{}

// PrincipalFromContext returns the authenticated caller injected by RequireUser.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal{}).(domain.Principal)
	return p, ok
}

// WithPrincipal injects a principal into ctx. Useful for testing.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

// Claims are the token claims understood by the service. Subject carries the
// user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name"`
}

// Principal converts verified claims into a domain principal. Any role other
// than admin is treated as a regular user.
func (c *Claims) Principal() domain.Principal {
	role := domain.RoleUser
	if strings.EqualFold(strings.TrimSpace(c.Role), string(domain.RoleAdmin)) {
		role = domain.RoleAdmin
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = c.Subject
	}
	return domain.Principal{ID: c.Subject, Name: name, Role: role}
}

// JWTVerifier validates HS256 bearer tokens.
type JWTVerifier struct {
	Secret []byte
}

// Parse verifies the signature and expiry of tokenString.
func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireUser validates the Bearer token and injects the caller's principal
// into the request context.
func RequireUser(verifier JWTVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if authz == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization scheme")
				return
			}
			claims, err := verifier.Parse(strings.TrimSpace(parts[1]))
			if err != nil || strings.TrimSpace(claims.Subject) == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}
			ctx := WithPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows the request only when RequireUser already injected an
// administrator principal.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
