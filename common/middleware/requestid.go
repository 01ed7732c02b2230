// Package middleware provides HTTP middleware shared by the service ops
// servers.
package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID correlates an ops request with server logs across
// services.
const HeaderRequestID = "X-Request-ID"

// RequestID echoes the caller's request ID on the response, generating one
// when the caller sent none.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}
