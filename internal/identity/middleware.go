package identity

import (
	"net/http"
	"strings"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Middleware authenticates the Authorization header and stores the resolved
// identity in the request context. Requests without credentials pass through
// unauthenticated; permission guards reject them downstream.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		id, err := s.Resolve(r.Context(), strings.TrimSpace(token))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}
