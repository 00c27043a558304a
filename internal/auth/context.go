// ABOUTME: Authenticated identity carried through request contexts
// ABOUTME: Provides WithIdentity/FromContext for handlers behind the middleware

package auth

import (
	"context"
)

// Identity is the authenticated caller of an API request.
type Identity struct {
	TenantID string
	Admin    bool // operators may act on any tenant
}

// CanAccess reports whether the identity may act on tenantID's resources.
func (i *Identity) CanAccess(tenantID string) bool {
	if i == nil {
		return false
	}
	return i.Admin || i.TenantID == tenantID
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the request identity, or nil if unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
