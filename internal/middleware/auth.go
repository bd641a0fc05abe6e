package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ClaimsContextKey is where RequireJWT stores the validated claims.
const ClaimsContextKey = "claims"

const defaultTokenTTL = 24 * time.Hour

// AdminClaims are the claims carried by admin API bearer tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// JWTAuth issues and validates HS256 admin tokens.
type JWTAuth struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTAuth creates a JWTAuth signing with secretKey.
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{secretKey: []byte(secretKey), now: time.Now}
}

// GenerateToken creates a token for subject valid for ttl (24h when ttl is zero).
func (j *JWTAuth) GenerateToken(subject string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := j.now()
	expiresAt := now.Add(ttl)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a token, with or without its "Bearer " prefix.
func (j *JWTAuth) ValidateToken(tokenString string) (*AdminClaims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequireJWT rejects requests without a valid bearer token.
func RequireJWT(auth *JWTAuth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := auth.ValidateToken(header)
			if err != nil {
				FromContext(c.Request().Context()).Debug("Rejected admin token", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}
