package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
)

const testAddr = contracts.Address("0xnode-1")

func TestIssueAndValidate(t *testing.T) {
	v := NewValidator([]byte("secret"), "sentinelmesh")

	token, err := v.Issue(testAddr, []string{"submitter", RoleAdmin}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, testAddr, claims.Address())
	assert.True(t, claims.HasRole(RoleAdmin))
	assert.False(t, claims.HasRole("auditor"))
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewValidator([]byte("secret-a"), "sentinelmesh").Issue(testAddr, nil, time.Hour)
	require.NoError(t, err)

	_, err = NewValidator([]byte("secret-b"), "sentinelmesh").Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewValidator([]byte("secret"), "someone-else").Issue(testAddr, nil, time.Hour)
	require.NoError(t, err)

	_, err = NewValidator([]byte("secret"), "sentinelmesh").Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	v := NewValidator([]byte("secret"), "sentinelmesh")
	token, err := v.Issue(testAddr, nil, -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestMiddlewareFailsClosed(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Nil validator rejects everything except public paths.
	handler := Middleware(nil)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	v := NewValidator([]byte("secret"), "sentinelmesh")
	token, err := v.Issue(testAddr, []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	var got contracts.Address
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		got = claims.Address()
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(v)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testAddr, got)
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	v := NewValidator([]byte("secret"), "sentinelmesh")
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, header := range []string{"", "Basic abc", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestRequireAdmin(t *testing.T) {
	v := NewValidator([]byte("secret"), "sentinelmesh")
	handler := Middleware(v)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	adminToken, err := v.Issue(testAddr, []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)
	nodeToken, err := v.Issue(testAddr, []string{"submitter"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/nodes", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/nodes", nil)
	req.Header.Set("Authorization", "Bearer "+nodeToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterPerActor(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different actor has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
