package router

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/arvikon/otpgate/internal/pkg/config"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
)

// TicketAuth verifies the Authorization bearer token as a step-up ticket and
// stores the verified claims in the request context. Apply per route.
func TicketAuth(verifier jwt.JWT) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := strings.Fields(r.Header.Get("Authorization"))
			if len(p) != 2 || !strings.EqualFold(p[0], "Bearer") {
				writeJSON(w, map[string]string{"message": "Step-up ticket required"}, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(p[1])
			if err != nil {
				writeJSON(w, map[string]string{"message": "Invalid or expired ticket"}, http.StatusUnauthorized)
				return
			}

			ctx := jwt.SetTicket(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyAuth guards operational endpoints with a static key taken from
// configuration. Apply per route.
func APIKeyAuth(cfg config.Config, key string) Middleware {
	secret := ""
	if cfg != nil {
		secret = cfg.GetString(key)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeJSON(w, map[string]string{"message": "endpoint disabled"}, http.StatusForbidden)
				return
			}

			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeJSON(w, map[string]string{"message": "invalid api key"}, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
