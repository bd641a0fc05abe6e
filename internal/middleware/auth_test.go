package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("secret")

	token, expiresAt, err := auth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("secret")

	_, _, err := auth.GenerateToken("", 0)
	assert.Error(t, err)

	other, _, err := NewJWTAuth("other").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.Error(t, err, "wrong key")

	expired := NewJWTAuth("secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(stale)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, AdminClaims{})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(unsigned)
	assert.Error(t, err, "alg none")

	_, err = auth.ValidateToken("")
	assert.Error(t, err)
}

func TestRequireJWT(t *testing.T) {
	auth := NewJWTAuth("secret")
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		claims := c.Get(ClaimsContextKey).(*AdminClaims)
		return c.String(http.StatusOK, claims.Subject)
	}, RequireJWT(auth))

	token, _, err := auth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", rec.Body.String())
			}
		})
	}
}
