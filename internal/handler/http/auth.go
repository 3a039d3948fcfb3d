package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/middleware"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/jwt"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/workspace"
)

type AuthHandler interface {
	Login(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
}

type AuthHandlerImpl struct {
	jwtService jwt.Service
	pool       *workspace.Pool
}

func NewAuthHandler(jwtService jwt.Service, pool *workspace.Pool) AuthHandler {
	return &AuthHandlerImpl{jwtService: jwtService, pool: pool}
}

// Login implements AuthHandler.
func (a *AuthHandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq auth.LoginRequest

	// 1. Decode JSON
	if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
		slog.Error("Login decode error", "error", err)
		response.BadRequest(w, "Invalid request format", nil)
		return
	}

	// Validate DTO
	if err := loginReq.Validate(); err != nil {
		slog.Error("Login validate error", "error", err)
		response.HandleError(w, err)
		return
	}

	ws, err := a.pool.Create(r.Context())
	if err != nil {
		slog.Error("Login workspace error", "error", err)
		response.HandleError(w, err)
		return
	}

	// Call service
	s, err := ws.Auth.Login(r.Context(), loginReq)
	if err != nil {
		slog.Error("Login service error", "error", err)
		if closeErr := a.pool.Close(context.WithoutCancel(r.Context()), ws.ID); closeErr != nil {
			slog.Error("Login cleanup error", "error", closeErr)
		}
		response.HandleError(w, err)
		return
	}

	token, expiresAt, err := a.jwtService.GenerateSessionToken(ws.ID, s.User.ID, s.User.Role)
	if err != nil {
		slog.Error("Login token error", "error", err)
		response.HandleError(w, err)
		return
	}

	slog.Info("Login successful", "user_id", s.User.ID, "session_id", ws.ID)
	response.Success(w, auth.GatewayLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      s.User,
	})
}

// Logout implements AuthHandler.
func (a *AuthHandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.HandleError(w, auth.ErrInvalidToken)
		return
	}

	if err := a.pool.Close(r.Context(), claims.SessionID); err != nil {
		slog.Error("Logout service error", "error", err)
		response.HandleError(w, err)
		return
	}
	a.jwtService.RevokeToken(middleware.RawToken(r), claims.ExpiresAt)

	slog.Info("Logout successful", "session_id", claims.SessionID)
	response.SuccessWithMessage(w, "Logged out", nil)
}

// Me implements AuthHandler.
func (a *AuthHandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())

	user, err := ws.Auth.Me(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Success(w, user)
}
