package auth

import (
	"context"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
)

type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (session.Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (session.User, error)
	// Startup refreshes or discards an expired session before any other call.
	Startup(ctx context.Context) error
}
