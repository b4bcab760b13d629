package http

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	jwtinfra "github.com/sender-identity/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0600))
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0600))

	p, err := jwtinfra.NewProvider(&config.Config{JWTPrivateKeyPath: privPath, JWTPublicKeyPath: pubPath, JWTExpiry: time.Hour})
	require.NoError(t, err)
	return p
}

func testConfig() *config.Config {
	return &config.Config{AllowedOrigins: []string{"*"}, PublicBaseURL: "http://localhost:3000"}
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func TestRouter_HealthCheck(t *testing.T) {
	h := NewRouter(testConfig(), &Deps{})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/v1/health-check/ping", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_AuthNotConfigured(t *testing.T) {
	h := NewRouter(testConfig(), &Deps{})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/v1/senders", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_MissingBearer(t *testing.T) {
	h := NewRouter(testConfig(), &Deps{JWTProvider: testProvider(t)})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/v1/senders", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_ViewerCannotMutate(t *testing.T) {
	p := testProvider(t)
	h := NewRouter(testConfig(), &Deps{JWTProvider: p})
	tok, err := p.Sign("t1", "u1", domain.RoleViewer)
	require.NoError(t, err)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/senders"},
		{http.MethodPut, "/v1/senders/s1"},
		{http.MethodDelete, "/v1/senders/s1"},
		{http.MethodPost, "/v1/senders/s1/resend"},
		{http.MethodPost, "/v1/domains"},
	} {
		r := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		r.Header.Set("Authorization", "Bearer "+tok)
		assert.Equal(t, http.StatusForbidden, serve(h, r).Code, tc.method+" "+tc.path)
	}
}

func TestRouter_VerifyIsRateLimited(t *testing.T) {
	h := NewRouter(testConfig(), &Deps{})
	var last int
	for i := 0; i < 11; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/verify", nil)
		r.RemoteAddr = "203.0.113.9:5000"
		last = serve(h, r).Code
	}
	// The first ten fail validation (no token); the eleventh never reaches the handler.
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouter_MetricsExposed(t *testing.T) {
	h := NewRouter(testConfig(), &Deps{})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_TrustedProxyKeysLimiterOnForwardedClient(t *testing.T) {
	cfg := testConfig()
	cfg.TrustProxyHeaders = true
	h := NewRouter(cfg, &Deps{})

	for i := 0; i < 10; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/verify", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
		serve(h, r)
	}
	r := httptest.NewRequest(http.MethodGet, "/v1/verify", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.2")
	assert.NotEqual(t, http.StatusTooManyRequests, serve(h, r).Code)
}
