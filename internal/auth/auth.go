// Package auth guards the run trigger with a bearer token checked against a
// bcrypt hash.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(b), err
}

func CheckToken(hash, token string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}

// Bearer authorizes requests carrying a token that matches hash. An empty
// hash admits every request.
type Bearer struct {
	hash string

	mu       sync.Mutex
	accepted string
}

func NewBearer(hash string) *Bearer {
	return &Bearer{hash: strings.TrimSpace(hash)}
}

// Enabled reports whether a token is required.
func (b *Bearer) Enabled() bool { return b != nil && b.hash != "" }

// Allow checks the request's token.
func (b *Bearer) Allow(r *http.Request) bool {
	if !b.Enabled() {
		return true
	}
	token := tokenFrom(r)
	if token == "" {
		return false
	}

	// skip bcrypt for the token we last accepted
	b.mu.Lock()
	last := b.accepted
	b.mu.Unlock()
	if last != "" && secureEq(last, token) {
		return true
	}

	if !CheckToken(b.hash, token) {
		return false
	}
	b.mu.Lock()
	b.accepted = token
	b.mu.Unlock()
	return true
}

func (b *Bearer) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.Allow(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kenpo-watcher"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenFrom reads "Authorization: Bearer <t>", falling back to the token
// query parameter for cron services that cannot set headers.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func secureEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
