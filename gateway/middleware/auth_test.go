package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "streampay",
	}, nil)
	token := signToken(t, testSecret, jwt.MapClaims{
		"iss": "streampay",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, auth.Verify(token))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	token := signToken(t, "other-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.ErrorIs(t, auth.Verify(token), ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		ClockSkew:  time.Second,
	}, nil)
	token := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	require.ErrorIs(t, auth.Verify(token), ErrInvalidToken)
}

func TestVerifyIssuerAndAudience(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "streampay",
		Audience:   "rpc",
	}, nil)

	good := signToken(t, testSecret, jwt.MapClaims{
		"iss": "streampay",
		"aud": "rpc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, auth.Verify(good))

	wrongIssuer := signToken(t, testSecret, jwt.MapClaims{
		"iss": "someone-else",
		"aud": "rpc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.ErrorIs(t, auth.Verify(wrongIssuer), ErrInvalidToken)

	wrongAudience := signToken(t, testSecret, jwt.MapClaims{
		"iss": "streampay",
		"aud": "explorer",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.ErrorIs(t, auth.Verify(wrongAudience), ErrInvalidToken)
}

func TestVerifyDisabledPassesEverything(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	require.NoError(t, auth.Verify(""))
	require.NoError(t, auth.Verify("garbage"))
}

func TestMiddlewareGatesRequests(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	bare := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, bare)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	token := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	authorized := httptest.NewRequest(http.MethodPost, "/", nil)
	authorized.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, authorized)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRequestIDAssignsAndHonours(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "upstream-42", seen)
}
