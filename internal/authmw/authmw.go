// Package authmw guards the gateway API with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// QueryParam carries the token for clients that cannot set headers, the same
// convention the realtime endpoint uses.
const QueryParam = "bearer"

// tokenFrom returns the presented token and whether one was presented at all.
// The Authorization header wins over the query parameter.
func tokenFrom(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(auth, "Bearer ") {
			return "", false
		}
		return auth[len("Bearer "):], true
	}
	if q := r.URL.Query(); q.Has(QueryParam) {
		return q.Get(QueryParam), true
	}
	return "", false
}

// BearerToken returns middleware requiring token in the Authorization header
// or the bearer query parameter. An empty token disables the check.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := tokenFrom(r)
			if !ok {
				writeUnauthorized(w, "missing or malformed credentials")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ccgate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
