package shared

import "context"

// Identity is the resolved caller supplied by the authentication boundary.
// The engine never authenticates credentials itself; it only consumes the
// resolved (user, active) pair.
type Identity struct {
	UserID   int64
	Subject  string
	IsActive bool
}

type contextKey string

const identityKey contextKey = "aegis.identity"

// ContextWithIdentity stores the resolved identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the resolved identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
