package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckToken(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckToken(hash, "s3cret"))
	assert.False(t, CheckToken(hash, "s3cret "))
	assert.False(t, CheckToken("not-a-hash", "s3cret"))
}

func TestBearerDisabled(t *testing.T) {
	b := NewBearer("  ")
	assert.False(t, b.Enabled())
	assert.True(t, b.Allow(httptest.NewRequest(http.MethodPost, "/run", nil)))

	var nilBearer *Bearer
	assert.True(t, nilBearer.Allow(httptest.NewRequest(http.MethodPost, "/run", nil)))
}

func TestBearerAllow(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	b := NewBearer(hash)

	req := func(header, query string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/run"+query, nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	assert.False(t, b.Allow(req("", "")))
	assert.False(t, b.Allow(req("Bearer wrong", "")))
	assert.False(t, b.Allow(req("Basic s3cret", "")))
	assert.True(t, b.Allow(req("Bearer s3cret", "")))
	assert.True(t, b.Allow(req("bearer s3cret", "")), "scheme is case-insensitive")
	assert.True(t, b.Allow(req("", "?token=s3cret")))
	// a bad header is not rescued by a good query token
	assert.False(t, b.Allow(req("Bearer wrong", "?token=s3cret")))
}

func TestRequire(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	h := NewBearer(hash).Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/run", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSecureEq(t *testing.T) {
	assert.True(t, secureEq("abc", "abc"))
	assert.False(t, secureEq("abc", "abd"))
	assert.False(t, secureEq("abc", "ab"))
}
