package shared

import "context"

// Identity is the opaque user identity attached to audit entries. It is
// produced by an external collaborator (the HTTP identity middleware); this
// service never authenticates anyone.
type Identity struct {
	UserID   string
	UserName string
}

// SystemIdentity is used when no caller identity is available.
var SystemIdentity = Identity{UserID: "system", UserName: "unknown"}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity, falling back to the
// system placeholder.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.UserID == "" {
		return SystemIdentity
	}
	return id
}
