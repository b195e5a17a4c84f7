package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenAuth rejects requests that do not carry token, either as ?token= (browsers
// cannot set headers on a websocket handshake) or as an Authorization Bearer header.
// An empty token disables the check.
func tokenAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
