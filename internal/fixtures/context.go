package fixtures

import (
	"context"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
)

type userCtxKey struct{}

func withUser(ctx context.Context, u session.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

func userFrom(ctx context.Context) session.User {
	u, _ := ctx.Value(userCtxKey{}).(session.User)
	return u
}
