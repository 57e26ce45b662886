package shared

import "context"

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal id in context.
// Identity resolution happens upstream; this core never authenticates.
func ContextWithPrincipal(ctx context.Context, principalID int64) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principalID)
}

// PrincipalFromContext extracts the principal id from context. The
// second return is false when no principal was resolved.
func PrincipalFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(principalContextKey{}).(int64)
	return id, ok
}
