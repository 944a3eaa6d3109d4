package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestCORS(t *testing.T) {
	h := NewHandler(&fakeSessions{}, nil, Config{AllowedOrigins: []string{"https://app.example.com"}})

	t.Run("no origin is allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, get("/status/"+testTenant))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("listed origin is allowed", func(t *testing.T) {
		req := get("/status/" + testTenant)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unlisted origin is rejected", func(t *testing.T) {
		req := get("/status/" + testTenant)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/send/"+testTenant, http.NoBody)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})
}

func TestAuthenticate(t *testing.T) {
	h := NewHandler(&fakeSessions{}, nil, Config{JWTSecret: testSecret, TenantClaim: "tenant"})
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
	}{
		{"missing token", "/status/" + testTenant, "", http.StatusUnauthorized},
		{"not bearer", "/status/" + testTenant, "Basic abc", http.StatusUnauthorized},
		{
			"wrong secret", "/status/" + testTenant,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, "other-secret", jwt.MapClaims{"tenant": testTenant, "exp": exp}),
			http.StatusUnauthorized,
		},
		{
			"expired", "/status/" + testTenant,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"tenant": testTenant, "exp": time.Now().Add(-time.Minute).Unix()}),
			http.StatusUnauthorized,
		},
		{
			"other tenant", "/status/" + testTenant,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"tenant": "globex", "exp": exp}),
			http.StatusForbidden,
		},
		{
			"no tenant route", "/sessions",
			"Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"tenant": testTenant, "exp": exp}),
			http.StatusForbidden,
		},
		{
			"valid", "/status/" + testTenant,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"tenant": testTenant, "exp": exp}),
			http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := get(tt.path)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAuthenticate_NoTenantClaim(t *testing.T) {
	var seen jwt.MapClaims
	h := &Handler{cfg: Config{JWTSecret: testSecret}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Claims(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := get("/sessions")
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "ops"}))
	w := httptest.NewRecorder()
	h.authenticate(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen["sub"])
}

func TestAuthenticate_DisabledWithoutSecret(t *testing.T) {
	h := NewHandler(&fakeSessions{}, nil, Config{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, get("/sessions"))
	assert.Equal(t, http.StatusOK, w.Code)
}
