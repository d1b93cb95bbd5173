package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/apikey"
)

type principalKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID  uuid.UUID
	KeyID     uuid.UUID
	KeyPrefix string
	Scopes    []string
}

// Grants reports whether p holds scope. Admin keys hold every scope.
func (p Principal) Grants(scope string) bool {
	return slices.Contains(p.Scopes, scope) || slices.Contains(p.Scopes, apikey.ScopeAdmin)
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// GetTenantID returns the tenant of the authenticated caller.
func GetTenantID(r *http.Request) (uuid.UUID, bool) {
	p, ok := PrincipalFrom(r.Context())
	return p.TenantID, ok
}
