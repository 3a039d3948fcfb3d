package middleware

import (
	"context"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/jwt"
	"github.com/go-chi/jwtauth/v5"
)

type claimsKey struct{}

// AuthRequired accepts verified, unrevoked gateway session tokens and stores their claims.
func AuthRequired(jwtService jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())
			if err != nil {
				response.Unauthorized(w, err.Error())
				return
			}

			if token == nil {
				response.HandleError(w, auth.ErrInvalidToken)
				return
			}

			claims, err := jwtService.ClaimsFromToken(token)
			if err != nil {
				response.HandleError(w, auth.ErrInvalidToken)
				return
			}

			if jwtService.IsTokenRevoked(RawToken(r)) {
				response.HandleError(w, auth.ErrTokenRevoked)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(hfn)
	}
}

// RawToken returns the bearer token as sent, from the header or the jwt query parameter.
func RawToken(r *http.Request) string {
	if tok := jwtauth.TokenFromHeader(r); tok != "" {
		return tok
	}
	return jwtauth.TokenFromQuery(r)
}

// ClaimsFromContext returns the claims stored by AuthRequired.
func ClaimsFromContext(ctx context.Context) (jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.Claims)
	return claims, ok
}
