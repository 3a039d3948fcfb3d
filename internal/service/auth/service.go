package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"golang.org/x/oauth2"
)

const loginPath = "/login"

// SessionStore is the part of the session manager the auth flow writes through.
type SessionStore interface {
	Current(ctx context.Context) (session.Session, error)
	Set(ctx context.Context, s session.Session) error
	Clear(ctx context.Context) error
}

type AuthServiceImpl struct {
	client   *apiclient.Client
	sessions SessionStore
}

func NewAuthService(client *apiclient.Client, sessions SessionStore) auth.AuthService {
	return &AuthServiceImpl{client: client, sessions: sessions}
}

// Login implements auth.AuthService.
func (a *AuthServiceImpl) Login(ctx context.Context, req auth.LoginRequest) (session.Session, error) {
	if err := req.Validate(); err != nil {
		return session.Session{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to encode login request: %w", err)
	}

	resp, err := a.client.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Path:        loginPath,
		Body:        body,
		ContentType: "application/json",
		Anonymous:   true,
	})
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return session.Session{}, auth.ErrInvalidCredentials
		}
		return session.Session{}, fmt.Errorf("login request failed: %w", err)
	}

	var tokenResp auth.TokenResponse
	if err := apiclient.DecodeData(resp.Body, &tokenResp); err != nil {
		return session.Session{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return session.Session{}, auth.ErrMissingAccessToken
	}

	s := session.Session{
		Token: oauth2.Token{
			AccessToken:  tokenResp.AccessToken,
			RefreshToken: tokenResp.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       apiclient.TokenExpiry(tokenResp.AccessToken),
		},
		User: tokenResp.User,
	}
	if err := a.sessions.Set(ctx, s); err != nil {
		return session.Session{}, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user logged in", "user_id", s.User.ID, "role", s.User.Role)
	return s, nil
}

// Logout implements auth.AuthService.
func (a *AuthServiceImpl) Logout(ctx context.Context) error {
	return a.sessions.Clear(ctx)
}

// Me implements auth.AuthService.
func (a *AuthServiceImpl) Me(ctx context.Context) (session.User, error) {
	s, err := a.sessions.Current(ctx)
	if err != nil {
		return session.User{}, err
	}
	if !s.HasAccessToken() {
		return session.User{}, session.ErrNoSession
	}
	return s.User, nil
}

// Startup implements auth.AuthService.
func (a *AuthServiceImpl) Startup(ctx context.Context) error {
	if err := a.client.CheckExpiryOnStartup(ctx); err != nil {
		return fmt.Errorf("startup session check failed: %w", err)
	}
	return nil
}
