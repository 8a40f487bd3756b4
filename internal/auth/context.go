package auth

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID uuid.UUID
	Role   user.Role
}

func (p *Principal) IsAdmin() bool {
	return p.Role == user.RoleAdmin
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by RequireAuth, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
