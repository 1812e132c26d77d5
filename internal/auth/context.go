// Package auth carries the user a service request acts for.
package auth

import (
	"context"

	"github.com/dukerupert/mealminder/internal/model"
)

type contextKey struct{}

func WithUser(ctx context.Context, u model.UserPreference) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

func FromContext(ctx context.Context) (model.UserPreference, bool) {
	u, ok := ctx.Value(contextKey{}).(model.UserPreference)
	return u, ok
}

func UserID(ctx context.Context) int64 {
	u, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return u.UserID
}
