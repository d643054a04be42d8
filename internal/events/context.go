package events

import "context"

type userKey struct{}

// WithUser returns a context carrying the acting user's id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the acting user's id, or DefaultUser.
func UserFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultUser
}
