package httpserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards the admin surface with constant-time credential checks.
// Credentials are hashed before comparison so length differences leak
// nothing.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(username))
	wantPass := sha256.Sum256([]byte(password))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if ok {
				gotUser := sha256.Sum256([]byte(user))
				gotPass := sha256.Sum256([]byte(pass))
				userOK := subtle.ConstantTimeCompare(wantUser[:], gotUser[:]) == 1
				passOK := subtle.ConstantTimeCompare(wantPass[:], gotPass[:]) == 1
				if userOK && passOK {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="admin", charset="UTF-8"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		})
	}
}
