package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/foundermatch/funnel/internal/analytics"
	"github.com/foundermatch/funnel/internal/pkg/httputil"
)

// ConsentHeader lets non-browser clients state consent explicitly.
const ConsentHeader = "X-Analytics-Consent"

// consentMiddleware records the visitor's analytics consent on the request
// context. The header wins over the cookie.
func consentMiddleware(cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := r.Header.Get(ConsentHeader)
			if value == "" {
				if c, err := r.Cookie(cookieName); err == nil {
					value = c.Value
				}
			}
			ctx := analytics.WithConsent(r.Context(), analytics.ParseConsent(value))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireBearer rejects requests whose bearer token does not match token.
// An empty token locks the route entirely.
func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := httputil.BearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
