package middleware

import (
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
)

// RequireApprover rejects roles that own no approval stage.
func RequireApprover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			response.Unauthorized(w, "Missing session")
			return
		}

		switch request.NormalizeRole(claims.Role) {
		case request.RoleManager, request.RoleHRAdmin, request.RoleFinanceCoordinator, request.RoleFinance, request.RoleCEO:
			next.ServeHTTP(w, r)
		default:
			response.Forbidden(w, "Your role cannot approve or reject requests")
		}
	})
}
