package http

import (
	"net/http"
	"os"
	"strings"
)

// bearerToken pulls the token out of an Authorization header, "" if absent.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func isAdmin(r *http.Request) bool {
	want := os.Getenv("API_TOKEN")
	return want != "" && bearerToken(r) == want
}

// RequireAPIToken guards the admin endpoints with the API_TOKEN env token.
func RequireAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
