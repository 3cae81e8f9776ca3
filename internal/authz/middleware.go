package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the caller holds the named "resource.action" permission.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	resource, action := splitPermission(permission)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			allowed, err := m.Service.CheckPermission(r.Context(), id, resource, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitPermission(name string) (resource, action string) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}
