package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rifas-backend/internal/auth"
)

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("local-dev"))
	require.NoError(t, err)
	return signed
}

// identityEcho records the identity the middleware stored in the context.
func identityEcho(captured *auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = auth.CallerIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareWithoutIssuerExtractsIdentity(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "")

	var identity auth.Identity
	handler := auth.Middleware()(identityEcho(&identity))

	req := httptest.NewRequest(http.MethodGet, "/api/pagos/x", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
		"sub":              "buyer-1",
		"numero_documento": "123456",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer-1", identity.UserID)
	assert.Equal(t, "123456", identity.Document)
}

func TestMiddlewareWithoutIssuerRejectsMissingHeader(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "")

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pagos/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareWithoutIssuerRejectsMalformedToken(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "")

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a malformed token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pagos/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")

	token, err := auth.ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = auth.ExtractTokenFromRequest(req)
	assert.Error(t, err)
}

func TestExtractIdentityFromJWTRequiresSubject(t *testing.T) {
	_, err := auth.ExtractIdentityFromJWT(signTestToken(t, jwt.MapClaims{
		"numero_documento": "123456",
	}))
	assert.Error(t, err)
}
