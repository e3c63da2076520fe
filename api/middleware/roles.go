package middleware

import (
	"net/http"

	"github.com/tutorbill/tutorbill-backend/api/responses"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// RequireRole restricts a route to the listed roles.
func RequireRole(logg *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			role := RoleFromContext(ctx)
			if _, ok := allowed[role]; !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePermissionDenied, "insufficient role"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
