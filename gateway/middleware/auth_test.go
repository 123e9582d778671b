package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := Subject(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]string{"subject": subject})
	})
}

func TestAuthenticatorPublishesSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "cdp-auth"}, nil)
	handler := auth.Middleware()(subjectEcho())

	req := httptest.NewRequest(http.MethodGet, "/v1/positions/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "0x00000000000000000000000000000000000000a1",
		"iss": "cdp-auth",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, "0x00000000000000000000000000000000000000a1", body["subject"])
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Audience: "cdpd"}, nil)
	handler := auth.Middleware(ScopeAdmin)(subjectEcho())

	cases := map[string]struct {
		header string
		status int
	}{
		"missing": {header: "", status: http.StatusUnauthorized},
		"garbage": {header: "Bearer nope", status: http.StatusUnauthorized},
		"expired": {header: "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "0xa1", "aud": "cdpd", "scope": ScopeAdmin, "exp": time.Now().Add(-time.Hour).Unix(),
		}), status: http.StatusUnauthorized},
		"audience": {header: "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "0xa1", "aud": "other", "scope": ScopeAdmin,
		}), status: http.StatusUnauthorized},
		"no subject": {header: "Bearer " + signToken(t, jwt.MapClaims{
			"aud": "cdpd", "scope": ScopeAdmin,
		}), status: http.StatusUnauthorized},
		"scope": {header: "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "0xa1", "aud": "cdpd", "scope": "cdp:read",
		}), status: http.StatusForbidden},
		"ok": {header: "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "0xa1", "aud": []string{"cdpd"}, "scope": "cdp:read " + ScopeAdmin,
		}), status: http.StatusOK},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/weth", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, tc.status, res.Code, name)
	}
}

func TestAuthenticatorDisabledReadsAccountHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Account", "0xb2")
	res := httptest.NewRecorder()
	auth.Middleware(ScopeAdmin)(subjectEcho()).ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "0xb2")
}

func TestHasScopeReadsValidatedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	require.True(t, auth.Enabled())
	require.False(t, NewAuthenticator(AuthConfig{}, nil).Enabled())

	var admin bool
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = HasScope(r.Context(), ScopeAdmin)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/events/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "0xa1", "scope": "cdp:read",
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, admin)

	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "0xa1", "scope": "cdp:read " + ScopeAdmin,
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, admin)
}
