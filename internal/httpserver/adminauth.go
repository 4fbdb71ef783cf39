package httpserver

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// adminAuth validates HTTP Basic credentials for the /ui/admin/* REST
// surface against the configured proxy admin username/password. The
// password is bcrypt-hashed once at construction, not per request — this
// is a genuine salted comparison (unlike the deterministic digest
// internal/credentials uses for virtual users), since the result is only
// ever compared, never used as a lookup key.
type adminAuth struct {
	username     string
	passwordHash []byte
}

func newAdminAuth(username, password string) (*adminAuth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &adminAuth{username: username, passwordHash: hash}, nil
}

func (a *adminAuth) valid(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}

// middleware rejects any request without valid Basic credentials.
func (a *adminAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !a.valid(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="jellyswarrm-admin", charset="UTF-8"`)
			respondWithError(w, http.StatusUnauthorized, "invalid admin credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}
