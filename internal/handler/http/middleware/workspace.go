package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/workspace"
	"github.com/go-chi/httplog/v3"
)

type workspaceKey struct{}

// Workspace opens the upstream workspace named by the token's session id.
func Workspace(pool *workspace.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Unauthorized(w, "Missing session")
				return
			}

			ws, err := pool.Open(r.Context(), claims.SessionID)
			if errors.Is(err, workspace.ErrInvalidSessionID) {
				response.Unauthorized(w, err.Error())
				return
			}
			if err != nil {
				slog.Error("Workspace open error", "error", err, "session_id", claims.SessionID)
				response.HandleError(w, err)
				return
			}
			httplog.SetAttrs(r.Context(), slog.String("session_id", ws.ID))

			ctx := context.WithValue(r.Context(), workspaceKey{}, ws)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WorkspaceFromContext(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*workspace.Workspace)
	return ws
}
