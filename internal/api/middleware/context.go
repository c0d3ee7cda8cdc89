package middleware

import (
	"context"

	"github.com/ayo6706/transfer-core/internal/models"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	userIDKey
	roleKey
	traceIDKey
)

func withPrincipal(ctx context.Context, p models.Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	ctx = context.WithValue(ctx, userIDKey, p.ID.String())
	return context.WithValue(ctx, roleKey, string(p.Role))
}

// PrincipalFromContext returns the caller stored by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	if ctx == nil {
		return models.Principal{}, false
	}
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// UserIDFromContext returns the authenticated user id, or "" before authentication.
func UserIDFromContext(ctx context.Context) string { return stringValue(ctx, userIDKey) }

// UserRoleFromContext returns the normalised role of the authenticated user.
func UserRoleFromContext(ctx context.Context) string { return stringValue(ctx, roleKey) }

func TraceIDFromContext(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
