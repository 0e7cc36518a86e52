package httpapi

import (
	"net/http"
	"strings"
)

// requireAuth gates a route on a valid access token. Tokens normally arrive
// as a Bearer header; WebSocket upgrades pass them as a token query
// parameter because browsers cannot set headers on upgrade requests.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing access token")
			return
		}
		if err := s.auth.Validate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
