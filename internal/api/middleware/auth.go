package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/ayo6706/transfer-core/internal/api/problem"
	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenRules holds the HS256 key and the optional iss/aud constraints.
type tokenRules struct {
	mu       sync.RWMutex
	key      []byte
	issuer   string
	audience string
}

var rules tokenRules

// SetJWTSecret sets the signing key. An empty secret leaves the current key in place.
func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	rules.mu.Lock()
	rules.key = []byte(secret)
	rules.mu.Unlock()
}

// SetJWTValidation requires tokens to carry the given iss and aud. Empty values disable
// the corresponding check.
func SetJWTValidation(issuer, audience string) {
	rules.mu.Lock()
	rules.issuer = strings.TrimSpace(issuer)
	rules.audience = strings.TrimSpace(audience)
	rules.mu.Unlock()
}

// JWTSecret returns a copy of the signing key.
func JWTSecret() []byte {
	rules.mu.RLock()
	defer rules.mu.RUnlock()
	return slices.Clone(rules.key)
}

func (t *tokenRules) parse(raw string) (*bankClaims, error) {
	t.mu.RLock()
	key, issuer, audience := t.key, t.issuer, t.audience
	t.mu.RUnlock()
	if len(key) == 0 {
		return nil, errNoSigningKey
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	claims := &bankClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", tok.Method.Alg())
		}
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

var errNoSigningKey = errors.New("no signing key configured")

type bankClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// principal resolves the caller. user_id wins over sub but they must agree when both are
// set, and the id must be a non-nil UUID.
func (c *bankClaims) principal() (models.Principal, bool) {
	raw := strings.TrimSpace(c.UserID)
	if raw == "" {
		raw = strings.TrimSpace(c.Subject)
	} else if c.Subject != "" && c.Subject != raw {
		return models.Principal{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return models.Principal{}, false
	}
	return models.Principal{ID: id, Role: domain.ParseRole(strings.ToLower(strings.TrimSpace(c.Role)))}, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/"+slug), http.StatusText(http.StatusUnauthorized), detail)
}

// AuthMiddleware validates the bearer token and stores the caller's principal in the
// request context. Unknown roles are treated as customer.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, r, "authorization-header-required", "Authorization header required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if raw = strings.TrimSpace(raw); !ok || raw == "" {
			unauthorized(w, r, "invalid-token-format", "Invalid token format")
			return
		}

		claims, err := rules.parse(raw)
		switch {
		case errors.Is(err, errNoSigningKey):
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		case err != nil:
			unauthorized(w, r, "invalid-token", "Invalid token")
			return
		}
		principal, ok := claims.principal()
		if !ok {
			unauthorized(w, r, "invalid-token-claims", "Invalid token claims")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// RequireRole rejects callers whose role is not listed with 403.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, domain.ParseRole(UserRoleFromContext(r.Context()))) {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
